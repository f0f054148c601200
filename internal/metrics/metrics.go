package metrics

import "expvar"

var (
	StepsClaimed         = expvar.NewInt("steps_claimed")
	StepsCompleted       = expvar.NewInt("steps_completed")
	StepsThrottled       = expvar.NewInt("steps_throttled")
	StepsFailed          = expvar.NewInt("steps_failed")
	RestrictionsRecorded = expvar.NewInt("restrictions_recorded")
	BlocksCompensated    = expvar.NewInt("blocks_compensated")
	RepeaterFirings      = expvar.NewInt("repeater_firings")
	RepeaterExhausted    = expvar.NewInt("repeater_exhausted")
)
