package draft

// Step is a stage of the booking form, used by the progress indicator.
type Step int

const (
	StepService Step = iota
	StepInstructor
	StepDate
	StepSlot
	StepCustomer
	StepConfirm
)

var stepNames = map[Step]string{
	StepService:    "service",
	StepInstructor: "instructor",
	StepDate:       "date",
	StepSlot:       "slot",
	StepCustomer:   "customer",
	StepConfirm:    "confirm",
}

// StepLabels are the captions shown by the progress indicator.
var StepLabels = map[Step]string{
	StepService:    "Servicio",
	StepInstructor: "Profesional",
	StepDate:       "Fecha",
	StepSlot:       "Horario",
	StepCustomer:   "Cliente",
	StepConfirm:    "Confirmar",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// Progress returns the first step the draft still needs.
func Progress(d Draft) Step {
	switch {
	case d.ServiceID == "":
		return StepService
	case d.InstructorID == "":
		return StepInstructor
	case d.Date == "":
		return StepDate
	case d.SelectedSlot == "":
		return StepSlot
	case d.CustomerName == "" || (d.CustomerPhone == "" && !d.Linked()):
		return StepCustomer
	default:
		return StepConfirm
	}
}
