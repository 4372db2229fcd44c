package tvexpose

import (
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "tvtools/internal/errors"
)

// DefaultGenerate is the output variable name when none is requested
const DefaultGenerate = "tv_exposure"

// Options is the full configuration surface of a panel-construction run.
// It is validated once, before any data is read; the pipeline itself never
// re-inspects option consistency.
type Options struct {
	// Column bindings
	ID       string `validate:"required"`
	Start    string `validate:"required"`
	Stop     string // required unless PointTime
	Exposure string `validate:"required"`
	Entry    string `validate:"required"`
	Exit     string `validate:"required"`
	// DoseVar optionally binds a daily-dose column on the exposure table
	DoseVar string

	// Reference is the value denoting the unexposed baseline state
	Reference string `validate:"required"`
	// Generate names the derived output variable (default "tv_exposure")
	Generate string

	// Overlap policy (mutually exclusive; layer is the default)
	Layer    bool
	Priority []string
	Split    bool
	// Combine names the composite-label output column
	Combine string

	// Temporal transforms, all in days
	Grace        int            `validate:"gte=0"`
	GraceByType  map[string]int // per-exposure-category grace overrides
	Lag          int            `validate:"gte=0"`
	Washout      int            `validate:"gte=0"`
	FillGaps     int            `validate:"gte=0"`
	CarryForward int            `validate:"gte=0"`
	PointTime    bool
	// Window restricts exposure to [start+WindowMin, start+WindowMax) offset
	// from each episode start
	WindowMin int
	WindowMax int
	HasWindow bool

	// Derived representation (mutually exclusive)
	EverTreated    bool
	CurrentFormer  bool
	DurationCuts   []float64
	ContinuousUnit string // days, weeks, months, quarters, years
	RecencyCuts    []float64
	Dose           bool
	DoseCuts       []float64

	// ByType applies the derived representation independently per
	// exposure-type label
	ByType bool

	// Pattern extras
	Switching       bool
	SwitchingDetail bool
	StateTime       bool

	// Passthrough
	KeepVars  []string
	KeepDates bool

	// Diagnostics
	Check     bool
	Gaps      bool
	Overlaps  bool
	Summarize bool
	Validate  bool
	// Strict escalates integrity findings to fatal errors
	Strict bool

	// Output persistence
	SaveAs  string
	Replace bool
	// ISODates renders output start/stop as ISO dates instead of day numbers
	ISODates bool

	// Conventions
	// DaysPerYear is the day-count convention for unit conversion
	// (default 365.25)
	DaysPerYear float64 `validate:"gte=0"`
	// Tolerance is the allowed per-subject person-time deviation in days
	Tolerance int `validate:"gte=0"`
	// Workers sizes the per-subject worker pool; 0 means GOMAXPROCS
	Workers int `validate:"gte=0"`
}

var validate = validator.New()

// CheckValid verifies the option set: required bindings, numeric ranges and
// the two mutual-exclusion groups (overlap policy, derived representation).
// All checks run up front so a bad configuration never touches data.
func (o *Options) CheckValid() error {
	if err := validate.Struct(o); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return apperrors.NewConfigurationErrorf(
				"invalid option %s (constraint %s)", verrs[0].Field(), verrs[0].Tag())
		}
		return apperrors.NewConfigurationError(err.Error())
	}

	if o.Stop == "" && !o.PointTime {
		return apperrors.NewConfigurationError("stop column is required unless pointtime is set")
	}
	if o.PointTime && o.CarryForward <= 0 {
		return apperrors.NewConfigurationError("pointtime requires carryforward(n) to set the event window length")
	}

	// Overlap policy: at most one of layer, priority, split, combine
	var policies []string
	if o.Layer {
		policies = append(policies, "layer")
	}
	if len(o.Priority) > 0 {
		policies = append(policies, "priority")
	}
	if o.Split {
		policies = append(policies, "split")
	}
	if o.Combine != "" {
		policies = append(policies, "combine")
	}
	if len(policies) > 1 {
		return apperrors.NewConfigurationErrorf(
			"overlap policies are mutually exclusive: %s", strings.Join(policies, ", "))
	}

	// Derived representation: at most one
	var reps []string
	if o.EverTreated {
		reps = append(reps, "evertreated")
	}
	if o.CurrentFormer {
		reps = append(reps, "currentformer")
	}
	if len(o.DurationCuts) > 0 {
		reps = append(reps, "duration")
	}
	if o.ContinuousUnit != "" && len(o.DurationCuts) == 0 {
		reps = append(reps, "continuousunit")
	}
	if len(o.RecencyCuts) > 0 {
		reps = append(reps, "recency")
	}
	if o.Dose {
		reps = append(reps, "dose")
	}
	if len(reps) > 1 {
		return apperrors.NewConfigurationErrorf(
			"derived representations are mutually exclusive: %s", strings.Join(reps, ", "))
	}

	if len(o.DoseCuts) > 0 && !o.Dose {
		return apperrors.NewConfigurationError("dosecuts requires the dose option")
	}
	if o.Dose && o.DoseVar == "" {
		return apperrors.NewConfigurationError("dose requires a dose column binding")
	}

	if o.HasWindow && o.WindowMin >= o.WindowMax {
		return apperrors.NewConfigurationErrorf(
			"window(%d %d) is invalid: min must be below max", o.WindowMin, o.WindowMax)
	}

	if o.ContinuousUnit != "" {
		switch strings.ToLower(o.ContinuousUnit) {
		case "days", "weeks", "months", "quarters", "years":
		default:
			return apperrors.NewConfigurationErrorf("unknown continuous unit %q", o.ContinuousUnit)
		}
	}

	for _, cuts := range [][]float64{o.DurationCuts, o.RecencyCuts, o.DoseCuts} {
		if !sort.Float64sAreSorted(cuts) {
			return apperrors.NewConfigurationError("cutpoints must be strictly increasing")
		}
		for i := 1; i < len(cuts); i++ {
			if cuts[i] == cuts[i-1] {
				return apperrors.NewConfigurationError("cutpoints must be strictly increasing")
			}
		}
		if len(cuts) > 0 && cuts[0] <= 0 {
			return apperrors.NewConfigurationError("cutpoints must be positive")
		}
	}

	for cat, g := range o.GraceByType {
		if g < 0 {
			return apperrors.NewConfigurationErrorf("negative grace for category %q", cat)
		}
	}

	return nil
}

// normalized returns a copy with defaults applied
func (o Options) normalized() Options {
	if o.Generate == "" {
		o.Generate = DefaultGenerate
	}
	if o.DaysPerYear == 0 {
		o.DaysPerYear = 365.25
	}
	if !o.Layer && len(o.Priority) == 0 && !o.Split && o.Combine == "" {
		o.Layer = true
	}
	if o.Validate {
		// validate implies the strict diagnostic contract
		o.Strict = true
	}
	return o
}

// graceFor returns the grace threshold for an exposure category
func (o *Options) graceFor(category string) int {
	if g, ok := o.GraceByType[category]; ok {
		return g
	}
	return o.Grace
}

// unitDivisor converts the continuous unit to days
func (o *Options) unitDivisor(unit string) float64 {
	switch strings.ToLower(unit) {
	case "weeks":
		return 7
	case "months":
		return o.DaysPerYear / 12
	case "quarters":
		return o.DaysPerYear / 4
	case "years":
		return o.DaysPerYear
	default:
		return 1
	}
}

// outputVar returns the name of the main derived output column
func (o *Options) outputVar() string {
	if o.Combine != "" {
		return o.Combine
	}
	return o.Generate
}
