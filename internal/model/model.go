package model

// Phase is the persisted operating phase of the regeneration cycle.
// The cycle runs forward only: regen_firsttime starts the first pass, then
// regen -> cooldown -> idle -> scrub loops until the loop counter runs out
// and the cycle parks in end.
type Phase string

const (
	PhaseRegenFirst Phase = "regen_firsttime"
	PhaseRegen      Phase = "regen"
	PhaseCooldown   Phase = "cooldown"
	PhaseIdle       Phase = "idle"
	PhaseScrub      Phase = "scrub"
	PhaseEnd        Phase = "end"
)

// CycleState mirrors the single live row of state_hlr. Start and end times
// are wall-clock milliseconds. Only the cycle engine mutates it.
type CycleState struct {
	IsStart       bool
	CyclicName    string
	SystemState   Phase
	StartTimeMS   int64
	EndTimeMS     int64
	LoopRemaining int
}

// SettingProfile is one row of setting_control, looked up by cyclic name.
// Durations are minutes; fan setpoints are volts. Read-only to this process.
type SettingProfile struct {
	CyclicName    string
	RegenFanVolt  float64
	RegenDuration int
	CoolFanVolt   float64
	CoolDuration  int
	IdleDuration  int
	ScabFanVolt   float64
	ScabDuration  int
}

// SensorRow is one append-only history record for hlr_sensor_data.
// Nil measurement fields record a failed read, never a zero value.
type SensorRow struct {
	DatetimeMS  int64
	SensorID    int
	CO2         *float64
	Temperature *float64
	Humidity    *float64
	Mode        string
	SensorType  string
	CyclicName  string
}
