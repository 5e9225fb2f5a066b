package profile

import (
	"fmt"
	"strings"
)

/* =================================================================================
							FORM CATALOGUE
	Declared domain of every form field. The form layer enforces these before
	a submission is turned into Data; the prompt layer only checks presence.
=================================================================================*/

// Kind is the widget kind of a form field.
type Kind string

const (
	KindNumber Kind = "number"
	KindChoice Kind = "choice"
	KindMulti  Kind = "multi"
	KindText   Kind = "text"
)

// FieldSpec describes one form field.
type FieldSpec struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    Kind     `json:"kind"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Default any      `json:"default,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// ValidationError reports a value outside its field's declared domain.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Variant names.
const (
	VariantBasic         = "basic"
	VariantComprehensive = "comprehensive"
)

var activityLevels = []string{"Sedentary", "Lightly Active", "Moderately Active", "Very Active", "Extremely Active"}

// BasicFields is the catalogue of the basic planning form.
var BasicFields = []FieldSpec{
	{Name: Height, Label: "Height (cm)", Kind: KindNumber, Min: 100, Max: 250, Default: 170},
	{Name: Weight, Label: "Weight (kg)", Kind: KindNumber, Min: 30, Max: 200, Default: 70},
	{Name: Age, Label: "Age", Kind: KindNumber, Min: 15, Max: 100, Default: 30},
	{Name: ActivityLevel, Label: "Activity Level", Kind: KindChoice, Choices: activityLevels},
	{Name: Goals, Label: "Fitness Goals", Kind: KindText, Default: "e.g., weight loss, muscle gain, maintenance"},
	{Name: DietaryRestrictions, Label: "Dietary Restrictions", Kind: KindText, Default: "e.g., vegetarian, gluten-free, none"},
	{Name: HealthIssues, Label: "Health Issues", Kind: KindText, Default: "e.g., diabetes, hypertension, none"},
}

// ComprehensiveFields is the catalogue of the comprehensive planning form.
var ComprehensiveFields = []FieldSpec{
	{Name: Age, Label: "Age", Kind: KindNumber, Min: 1, Max: 120, Default: 30},
	{Name: Gender, Label: "Gender", Kind: KindChoice, Choices: []string{"Male", "Female", "Other"}},
	{Name: Height, Label: "Height (cm)", Kind: KindNumber, Min: 100, Max: 250, Default: 170},
	{Name: Weight, Label: "Weight (kg)", Kind: KindNumber, Min: 20, Max: 300, Default: 70},
	{Name: TargetWeight, Label: "Target Weight (kg)", Kind: KindNumber, Min: 20, Max: 300, Default: 70},
	{Name: SleepHours, Label: "Daily Sleep Hours", Kind: KindNumber, Min: 4, Max: 12, Default: 7},
	{Name: MedicalConditions, Label: "Medical Conditions", Kind: KindMulti, Default: []string{"None"},
		Choices: []string{"None", "Diabetes", "Hypertension", "Thyroid", "PCOS", "Heart Disease", "Kidney Issues", "Liver Problems", "Other"}},
	{Name: Allergies, Label: "Allergies", Kind: KindText, Default: "None"},
	{Name: Medications, Label: "Current Medications", Kind: KindText, Default: "None"},
	{Name: BloodType, Label: "Blood Type", Kind: KindChoice,
		Choices: []string{"A+", "A-", "B+", "B-", "O+", "O-", "AB+", "AB-", "Don't Know"}},
	{Name: FitnessActivities, Label: "Fitness Activities", Kind: KindMulti, Default: []string{"Walking"},
		Choices: []string{"Gym/Weight Training", "Yoga", "Swimming", "Running", "Cycling", "Sports", "Walking", "HIIT", "Pilates", "Dancing", "Martial Arts"}},
	{Name: WorkoutFrequency, Label: "Workout Frequency", Kind: KindChoice,
		Choices: []string{"1-2 times/week", "3-4 times/week", "5-6 times/week", "Daily", "Multiple times per day"}},
	{Name: ExerciseDuration, Label: "Exercise Duration", Kind: KindChoice,
		Choices: []string{"15-30 minutes", "30-45 minutes", "45-60 minutes", "60-90 minutes", "90+ minutes"}},
	{Name: FitnessGoals, Label: "Fitness Goals", Kind: KindMulti, Default: []string{"General Fitness"},
		Choices: []string{"Weight Loss", "Muscle Gain", "Endurance", "Flexibility", "Strength", "General Fitness", "Sports Performance"}},
	{Name: DietType, Label: "Dietary Preference", Kind: KindChoice,
		Choices: []string{"Vegetarian", "Vegan", "Non-vegetarian", "Eggetarian", "Jain", "No Onion-Garlic"}},
	{Name: FoodAllergies, Label: "Food Allergies/Intolerances", Kind: KindMulti, Default: []string{"None"},
		Choices: []string{"None", "Dairy", "Gluten", "Nuts", "Soy", "Shellfish", "Other"}},
	{Name: MealFrequency, Label: "Preferred Meal Frequency", Kind: KindChoice,
		Choices: []string{"2 meals", "3 meals", "4 meals", "5 meals", "6+ meals"}},
	{Name: PreferredCuisine, Label: "Preferred Regional Cuisine", Kind: KindMulti, Default: []string{"Any"},
		Choices: []string{"North Indian", "South Indian", "Bengali", "Gujarati", "Maharashtrian", "Punjabi", "Kerala", "Any"}},
	{Name: BudgetLevel, Label: "Budget Level", Kind: KindChoice, Default: "Moderate",
		Choices: []string{"Very Limited", "Limited", "Moderate", "Flexible", "Unlimited"}},
}

// Catalogue returns the field catalogue for a form variant.
func Catalogue(variant string) ([]FieldSpec, error) {
	switch variant {
	case VariantBasic:
		return BasicFields, nil
	case VariantComprehensive:
		return ComprehensiveFields, nil
	default:
		return nil, fmt.Errorf("unknown form variant %q", variant)
	}
}

/* =================================================================================
							SUBMISSION
=================================================================================*/

// Submission is a raw form post. Numbers, single choices and free text arrive as
// scalars; multi-selects arrive as string lists. Absent keys stay absent.
type Submission map[string]any

// Build validates the submission against catalogue and converts it to Data.
// Fields not in the catalogue are ignored. A null value counts as absent.
func Build(catalogue []FieldSpec, sub Submission) (Data, error) {
	fields := make(map[string]string, len(catalogue))
	for _, spec := range catalogue {
		raw, ok := sub[spec.Name]
		if !ok || raw == nil {
			continue
		}
		value, err := convert(spec, raw)
		if err != nil {
			return Data{}, err
		}
		fields[spec.Name] = value
	}
	return New(fields), nil
}

func convert(spec FieldSpec, raw any) (string, error) {
	switch spec.Kind {
	case KindNumber:
		n, ok := raw.(float64)
		if !ok {
			return "", &ValidationError{Field: spec.Name, Reason: "must be a number"}
		}
		if n < spec.Min || n > spec.Max {
			return "", &ValidationError{Field: spec.Name, Reason: fmt.Sprintf("must be between %s and %s", Number(spec.Min), Number(spec.Max))}
		}
		return Number(n), nil

	case KindChoice:
		s, ok := raw.(string)
		if !ok {
			return "", &ValidationError{Field: spec.Name, Reason: "must be a string"}
		}
		if !contains(spec.Choices, s) {
			return "", &ValidationError{Field: spec.Name, Reason: fmt.Sprintf("must be one of: %s", strings.Join(spec.Choices, ", "))}
		}
		return s, nil

	case KindMulti:
		items, ok := raw.([]any)
		if !ok {
			return "", &ValidationError{Field: spec.Name, Reason: "must be a list of strings"}
		}
		choices := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok || !contains(spec.Choices, s) {
				return "", &ValidationError{Field: spec.Name, Reason: fmt.Sprintf("items must be among: %s", strings.Join(spec.Choices, ", "))}
			}
			choices = append(choices, s)
		}
		return JoinChoices(choices), nil

	default:
		s, ok := raw.(string)
		if !ok {
			return "", &ValidationError{Field: spec.Name, Reason: "must be text"}
		}
		return s, nil
	}
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
