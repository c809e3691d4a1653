package api

import (
	"time"

	"github.com/pulseworks/surveyd/internal/services"
)

// SeedExampleData creates and releases the two example surveys: a permanent BASIC
// profile survey and a weekly REGULAR survey with a two-day reminder. Dev only.
func SeedExampleData(mgmt *services.ManagementService) error {
	if err := seedSurvey(mgmt, basicSurvey()); err != nil {
		return err
	}
	return seedSurvey(mgmt, regularSurvey())
}

func seedSurvey(mgmt *services.ManagementService, survey *services.Survey) error {
	if _, err := mgmt.CreateSurvey(survey); err != nil {
		return err
	}
	_, err := mgmt.Release(survey.NameID)
	return err
}

func basicSurvey() *services.Survey {
	return &services.Survey{
		NameID:       "BASIC",
		Title:        "About you",
		Description:  "One-off questions about your background and general health.",
		IntervalType: services.IntervalNone,
		ReminderType: services.ReminderNone,
		Questions: []*services.Question{
			choiceQuestion("What is your age?", false,
				"18 - 24", "25 - 44", "45 - 64", "65 +"),
			choiceQuestion("What is your marital status?", false,
				"Married or civil partnership", "Living with partner", "Single"),
			gatedChoiceQuestion("Are you in employment?",
				[]string{"Full time employment", "Part time employment", "Retired", "Not in employment"},
				[]string{"Full time employment", "Part time employment"},
				textQuestion("Type of employment:", false, 256)),
			boolQuestion("Did you get a flu vaccination in the past year?"),
			gatedBoolQuestion("In general, do you have any health problems that require you to limit your activities?",
				true,
				textQuestion("If yes, what health problem limits your activities?", false, 256)),
			boolQuestion("Do you suffer from heart disease?"),
			boolQuestion("Do you suffer from diabetes?"),
			boolQuestion("Do you smoke?"),
		},
	}
}

func regularSurvey() *services.Survey {
	intervalStart := time.Date(2020, 5, 18, 0, 0, 0, 0, time.UTC)
	return &services.Survey{
		NameID:        "REGULAR",
		Title:         "Weekly check-in",
		Description:   "Weekly questions about your health and wellbeing.",
		IntervalType:  services.IntervalWeekly,
		IntervalStart: &intervalStart,
		IntervalValue: 1,
		ReminderType:  services.ReminderAfterDays,
		ReminderValue: 2,
		Questions: []*services.Question{
			choiceQuestion("How would you rate your general health TODAY:", false,
				"Excellent", "Very good", "Good", "Fair", "Poor"),
			choiceQuestion("How often do you feel lonely?", false,
				"Often / always", "Some of the time", "Occasionally", "Hardly ever", "Never"),
			gatedBoolQuestion("Have you been hospitalised for an infection this week?",
				true,
				textQuestion("How many days were you sick?", false, 256)),
			checklistQuestion("To what degree have you experienced the following symptoms in the last 7 days:",
				"Headache", "Muscle pain/aches", "Difficulty breathing", "Fever/ high temperature",
				"Sore throat", "Dry cough", "I felt physically exhausted"),
			rangeQuestion("How would you rate your quality of life over the last 7 days?",
				1, 10, "Terrible", "Outstanding"),
			rangeQuestion("How socially isolated have you felt in the last 7 days?",
				1, 10, "Not socially isolated", "Extremely socially isolated"),
			choiceQuestion("How would you rate your overall mental health?", false,
				"Excellent", "Very good", "Good", "Fair", "Poor"),
			textQuestion("Has this week changed the way that you use social media?", true, 256),
		},
	}
}

func boolQuestion(text string) *services.Question {
	return &services.Question{Type: services.QuestionBool, Text: text}
}

func gatedBoolQuestion(text string, dependsOn bool, subQuestions ...*services.Question) *services.Question {
	q := boolQuestion(text)
	q.Container = &services.Container{
		Type:          services.ContainerBool,
		DependsOnBool: &dependsOn,
		Questions:     subQuestions,
	}
	return q
}

func choiceQuestion(text string, multiple bool, answers ...string) *services.Question {
	q := &services.Question{Type: services.QuestionChoice, Text: text, Multiple: multiple}
	for _, value := range answers {
		q.Answers = append(q.Answers, &services.Answer{Value: value})
	}
	return q
}

// gatedChoiceQuestion gates its sub-questions on the given answer values;
// CreateSurvey remaps the values to the generated answer ids.
func gatedChoiceQuestion(text string, answers, dependsOn []string, subQuestions ...*services.Question) *services.Question {
	q := choiceQuestion(text, false, answers...)
	q.Container = &services.Container{
		Type:      services.ContainerChoice,
		DependsOn: dependsOn,
		Questions: subQuestions,
	}
	return q
}

func rangeQuestion(text string, min, max int, minText, maxText string) *services.Question {
	return &services.Question{
		Type:     services.QuestionRange,
		Text:     text,
		MinValue: min,
		MaxValue: max,
		MinText:  minText,
		MaxText:  maxText,
	}
}

func textQuestion(text string, multiline bool, maxLength int) *services.Question {
	return &services.Question{
		Type:      services.QuestionText,
		Text:      text,
		Multiline: multiline,
		MaxLength: maxLength,
	}
}

func checklistQuestion(text string, entries ...string) *services.Question {
	q := &services.Question{Type: services.QuestionChecklist, Text: text}
	for _, entry := range entries {
		q.Entries = append(q.Entries, &services.Question{
			Type: services.QuestionChecklistEntry,
			Text: entry,
		})
	}
	return q
}
