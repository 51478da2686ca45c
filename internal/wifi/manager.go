package wifi

const (
	// DefaultNmcliPath is resolved through PATH.
	DefaultNmcliPath = "nmcli"
	// DefaultIfconfigPath is resolved through PATH.
	DefaultIfconfigPath = "ifconfig"
)

// NmcliManager implements Manager by invoking nmcli and ifconfig.
type NmcliManager struct {
	runner       Runner
	nmcliPath    string
	ifconfigPath string
}

// NewNmcliManager creates a manager that runs the real host tools.
// Empty paths fall back to the defaults.
func NewNmcliManager(nmcliPath, ifconfigPath string) *NmcliManager {
	return NewNmcliManagerWithRunner(NewExecRunner(), nmcliPath, ifconfigPath)
}

// NewNmcliManagerWithRunner creates a manager with the provided runner.
// This constructor allows injecting a fake runner for testing.
func NewNmcliManagerWithRunner(runner Runner, nmcliPath, ifconfigPath string) *NmcliManager {
	if nmcliPath == "" {
		nmcliPath = DefaultNmcliPath
	}
	if ifconfigPath == "" {
		ifconfigPath = DefaultIfconfigPath
	}
	return &NmcliManager{
		runner:       runner,
		nmcliPath:    nmcliPath,
		ifconfigPath: ifconfigPath,
	}
}

// Ensure NmcliManager implements Manager interface.
var _ Manager = (*NmcliManager)(nil)
