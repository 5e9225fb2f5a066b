/*
Package profile holds the snapshot of the user's form values that a prompt is built from.
A Data value is rebuilt from the submitted form on every request and never changed in place.
*/
package profile

import (
	"sort"
	"strconv"
	"strings"
)

// Field names shared by the form layer and the prompt templates.
const (
	Height              = "height"
	Weight              = "weight"
	Age                 = "age"
	ActivityLevel       = "activity_level"
	Goals               = "goals"
	DietaryRestrictions = "dietary_restrictions"
	HealthIssues        = "health_issues"

	Gender            = "gender"
	TargetWeight      = "target_weight"
	SleepHours        = "sleep_hours"
	MedicalConditions = "medical_conditions"
	Allergies         = "allergies"
	Medications       = "medications"
	BloodType         = "blood_type"
	FitnessActivities = "fitness_activities"
	WorkoutFrequency  = "workout_frequency"
	ExerciseDuration  = "exercise_duration"
	FitnessGoals      = "fitness_goals"
	DietType          = "diet_type"
	FoodAllergies     = "food_allergies"
	MealFrequency     = "meal_frequency"
	PreferredCuisine  = "preferred_cuisine"
	BudgetLevel       = "budget_level"
)

// Data is an immutable field name -> display value mapping.
// An absent field is simply not present; there is no null value.
type Data struct {
	fields map[string]string
}

// New copies fields into a fresh Data.
func New(fields map[string]string) Data {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Data{fields: cp}
}

// Get returns the value of a field and whether it is present.
func (d Data) Get(name string) (string, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Has reports whether the field is present.
func (d Data) Has(name string) bool {
	_, ok := d.fields[name]
	return ok
}

// Len returns the number of present fields.
func (d Data) Len() int { return len(d.fields) }

// Names returns the present field names in sorted order.
func (d Data) Names() []string {
	names := make([]string, 0, len(d.fields))
	for k := range d.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of d with name set to value.
func (d Data) With(name, value string) Data {
	cp := New(d.fields)
	cp.fields[name] = value
	return cp
}

// Without returns a copy of d with name removed.
func (d Data) Without(name string) Data {
	cp := New(d.fields)
	delete(cp.fields, name)
	return cp
}

// Map returns a copy of the underlying fields.
func (d Data) Map() map[string]string {
	return New(d.fields).fields
}

// Number formats a numeric form value the way it is shown to the user:
// whole numbers without a fractional part.
func Number(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// JoinChoices joins a multi-select value the way the form displays it.
func JoinChoices(choices []string) string {
	return strings.Join(choices, ", ")
}
