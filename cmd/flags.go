package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/loom/internal/renderer"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port    int
	Host    string
	Subject string

	// Render flags
	Params   []string
	State    []string
	Announce []string
	Tick     time.Duration
	Timeout  time.Duration

	// Output flags
	OutputFormat string
	Debug        bool

	bindings map[string]string
}

// AddStandardFlags adds the named flag groups to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{bindings: make(map[string]string)}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(cmd, flags)
		case "render":
			addRenderFlags(cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 7331, "Port to serve on")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	AddFlagValidation(cmd, "port", ValidatePort)
	flags.bindings["port"] = "server.port"
	flags.bindings["host"] = "server.host"
}

func addRenderFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringArrayVarP(&flags.Params, "param", "P", nil, "Template parameter as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.State, "state", nil, "Initial self property as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.Announce, "announce", nil, "Value announced to inputs as type=value (repeatable)")
	cmd.Flags().StringVar(&flags.Subject, "subject", "app", "Id of the element the template renders into")
	cmd.Flags().DurationVar(&flags.Tick, "tick", 10*time.Millisecond, "Re-render coalescing window")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 30*time.Second, "How long to wait for imports")
	flags.bindings["subject"] = "server.subject"
	flags.bindings["tick"] = "render.tick"
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "Debug output")
}

// Bind points the configuration keys of the flag groups at the flags of
// cmd. Commands share keys, so only the running command binds.
func (f *StandardFlags) Bind(cmd *cobra.Command) {
	SetViperBindings(cmd, f.bindings)
}

// Args orders the --param values by the declared parameters.
func (f *StandardFlags) Args(params []string) ([]interface{}, error) {
	values, err := renderer.SplitAssignments(f.Params)
	if err != nil {
		return nil, err
	}
	return renderer.ParseArgs(params, values)
}

// InitialState returns the --state values.
func (f *StandardFlags) InitialState() (map[string]interface{}, error) {
	values, err := renderer.SplitAssignments(f.State)
	if err != nil {
		return nil, err
	}
	return renderer.ParseValues(values), nil
}

// Announcements returns the --announce values by type.
func (f *StandardFlags) Announcements() (map[string]interface{}, error) {
	values, err := renderer.SplitAssignments(f.Announce)
	if err != nil {
		return nil, err
	}
	return renderer.ParseValues(values), nil
}

// ValidateFlags checks flag combinations
func (f *StandardFlags) ValidateFlags() error {
	if f.OutputFormat != "" && f.OutputFormat != "text" && f.OutputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (must be text or json)", f.OutputFormat)
	}
	if f.Tick < 0 {
		return fmt.Errorf("tick must not be negative")
	}
	return nil
}

// SetViperBindings binds flags to viper configuration keys
func SetViperBindings(cmd *cobra.Command, bindings map[string]string) {
	for flagName, configKey := range bindings {
		if flag := cmd.Flags().Lookup(flagName); flag != nil {
			_ = viper.BindPFlag(configKey, flag)
		}
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort checks a port number; 0 asks for any free port
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateFileExists checks that a template file exists
func ValidateFileExists(filename string) error {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}
	return nil
}
