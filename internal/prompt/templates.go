package prompt

import (
	"fmt"

	"NutriPlan/internal/profile"
)

/* =================================================================================
						PROMPT VARIANTS
	One template per deployment variant. The variant is chosen at start-up and
	never changes while the process runs.
=================================================================================*/

// Variant pairs a template with the system instruction sent to hosted backends.
type Variant struct {
	Name     string
	System   string
	Template *Template
	Fields   []profile.FieldSpec
}

// BasicSystemPrompt is the persona for the basic planning assistant.
const BasicSystemPrompt = `You are a nutrition planning assistant.`

// BasicTemplate asks for a daily nutrition plan from the basic profile.
const BasicTemplate = `
Please provide your nutrition plan recommendations based on the following user information:
Height: {height} cm
Weight: {weight} kg
Age: {age}
Activity Level: {activity_level}
Goals: {goals}
Dietary Restrictions: {dietary_restrictions}
Previous Health Issues: {health_issues}

Please provide a detailed daily nutrition plan including:
1. Total daily calorie requirement
2. Macronutrient breakdown
3. Meal timing recommendations
4. Specific food suggestions for each meal
5. Supplements if needed
6. Hydration recommendations

Previous conversation context:
{chat_history}

User Question: {user_input}
`

// ComprehensiveSystemPrompt is the persona for the comprehensive planner.
const ComprehensiveSystemPrompt = `You are an expert Indian nutritionist and fitness consultant.`

// ComprehensiveTemplate builds a full nutrition and fitness plan from the extended profile.
const ComprehensiveTemplate = `
You are an expert Indian nutritionist and fitness consultant. Create a comprehensive nutrition and fitness plan based on the following user data:

PERSONAL INFORMATION:
- Age: {age}
- Gender: {gender}
- Height: {height} cm
- Weight: {weight} kg
- Target Weight: {target_weight} kg
- Daily Sleep Hours: {sleep_hours}

HEALTH DATA:
- Medical Conditions: {medical_conditions}
- Allergies: {allergies}
- Current Medications: {medications}
- Blood Type: {blood_type}

FITNESS PROFILE:
- Primary Fitness Activities: {fitness_activities}
- Workout Frequency: {workout_frequency}
- Exercise Duration: {exercise_duration}
- Fitness Goals: {fitness_goals}

DIETARY INFORMATION:
- Dietary Preference: {diet_type}
- Food Allergies: {food_allergies}
- Meal Frequency: {meal_frequency}
- Preferred Cuisine: {preferred_cuisine}
- Budget Constraints: {budget_level}

Based on this information, provide a detailed response in the following format:

### MEAL SUGGESTIONS ###
1. Early Morning (Pre-workout):
2. Breakfast:
3. Mid-morning Snack:
4. Lunch:
5. Evening Snack:
6. Post-workout:
7. Dinner:

[Include specific Indian dishes, portion sizes, and timing]

### NUTRIENT ANALYSIS ###
1. Macronutrients Required:
   - Proteins:
   - Carbohydrates:
   - Fats:

2. Key Micronutrients:
   - Essential vitamins:
   - Minerals:
   - Other nutrients:

### FITNESS-SPECIFIC NUTRITION ###
[Provide specific nutrition recommendations based on their fitness activities and goals]

### AFFORDABLE ALTERNATIVES ###
[List expensive nutrient sources and their cheaper Indian alternatives with similar nutritional value]

Keep recommendations focused on Indian foods and ingredients. Include regional dishes and seasonal considerations.

Previous conversation context:
{chat_history}

User Request: {user_input}
`

var (
	Basic = Variant{
		Name:     profile.VariantBasic,
		System:   BasicSystemPrompt,
		Template: MustParse(profile.VariantBasic, BasicTemplate),
		Fields:   profile.BasicFields,
	}

	Comprehensive = Variant{
		Name:     profile.VariantComprehensive,
		System:   ComprehensiveSystemPrompt,
		Template: MustParse(profile.VariantComprehensive, ComprehensiveTemplate),
		Fields:   profile.ComprehensiveFields,
	}
)

// Lookup returns the variant with the given name.
func Lookup(name string) (Variant, error) {
	switch name {
	case Basic.Name:
		return Basic, nil
	case Comprehensive.Name:
		return Comprehensive, nil
	default:
		return Variant{}, fmt.Errorf("unknown prompt variant %q", name)
	}
}
