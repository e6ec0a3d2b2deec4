// Package condition maps classifier output to clinical labels and the
// advice printed alongside them.
package condition

type Label string

const (
	MildDementia     Label = "Mild Dementia"
	ModerateDementia Label = "Moderate Dementia"
	NoDementia       Label = "No Dementia"
	VeryMildDementia Label = "Very Mild Dementia"
	Unknown          Label = "Unknown Condition"
)

// Congratulations replaces the precaution list when no dementia is found.
const Congratulations = "Congratulations! No Dementia Detected."

var labels = map[int]Label{
	0: MildDementia,
	1: ModerateDementia,
	2: NoDementia,
	3: VeryMildDementia,
}

var precautions = []string{
	"Maintain a daily routine.",
	"Stay physically and mentally active.",
	"Follow a healthy diet.",
	"Engage in social interactions.",
	"Reduce stress and anxiety.",
	"Get enough sleep every night.",
	"Stay hydrated and avoid alcohol.",
	"Take prescribed medications on time.",
}

// Mapping is the outcome of looking up a class index. Exactly one of
// Precautions and Message is set for a known label; both are empty for
// Unknown.
type Mapping struct {
	Index       int      `json:"index"`
	Label       Label    `json:"condition"`
	Precautions []string `json:"precautions,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Healthy reports whether the mapping is the No Dementia outcome.
func (m Mapping) Healthy() bool {
	return m.Label == NoDementia
}

// Map translates a class index. Indices outside the table map to Unknown
// and never to a clinical label.
func Map(index int) Mapping {
	label, ok := labels[index]
	if !ok {
		return Mapping{Index: index, Label: Unknown}
	}
	if label == NoDementia {
		return Mapping{Index: index, Label: label, Message: Congratulations}
	}
	return Mapping{Index: index, Label: label, Precautions: Precautions()}
}

// Precautions returns a copy of the fixed, ordered recommendation list.
func Precautions() []string {
	out := make([]string, len(precautions))
	copy(out, precautions)
	return out
}

// Labels returns the known labels in class index order.
func Labels() []Label {
	out := make([]Label, len(labels))
	for i, l := range labels {
		out[i] = l
	}
	return out
}
