package model

import "strings"

type EditType string

const (
	EditTypeText       EditType = "text_edit"
	EditTypeColor      EditType = "color_change"
	EditTypeObject     EditType = "object_modification"
	EditTypeBackground EditType = "background_change"
	EditTypeStyle      EditType = "style_change"
	EditTypeGeneral    EditType = "general_edit"
)

var AllEditTypes = []EditType{EditTypeText, EditTypeColor, EditTypeObject, EditTypeBackground, EditTypeStyle, EditTypeGeneral}

// editTypeRules is evaluated in order; the first rule with a matching keyword wins.
var editTypeRules = []struct {
	Type     EditType
	Keywords []string
}{
	{EditTypeText, []string{"replace", "text", "word", "letter", "font"}},
	{EditTypeColor, []string{"color", "colour", "red", "blue", "green", "yellow", "purple", "orange", "pink", "black", "white"}},
	{EditTypeObject, []string{"remove", "delete", "add", "insert", "place"}},
	{EditTypeBackground, []string{"background", "sky", "scene", "setting"}},
	{EditTypeStyle, []string{"style", "artistic", "painting", "sketch", "cartoon"}},
}

// ClassifyEditType buckets a prompt by case-insensitive keyword match.
func ClassifyEditType(prompt string) EditType {
	p := strings.ToLower(prompt)
	for _, rule := range editTypeRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(p, kw) {
				return rule.Type
			}
		}
	}
	return EditTypeGeneral
}
