package engine

import "riva/internal/intention"

// Observer receives execution progress callbacks so a collaborator surface
// can stream activity. All methods are optional; NopObserver is the default.
type Observer interface {
	OnIntentionStart(in *intention.Intention)
	OnCycleStart(in *intention.Intention, cycle int)
	OnCycleComplete(in *intention.Intention, cycle int, outcome string)
	OnIntentionComplete(in *intention.Intention)
	OnSessionComplete(success bool, message string)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) OnIntentionStart(*intention.Intention)             {}
func (NopObserver) OnCycleStart(*intention.Intention, int)            {}
func (NopObserver) OnCycleComplete(*intention.Intention, int, string) {}
func (NopObserver) OnIntentionComplete(*intention.Intention)          {}
func (NopObserver) OnSessionComplete(bool, string)                    {}
