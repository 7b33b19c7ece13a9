package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeAndValidateArgs checks operator-supplied extra arguments. Input
// and output are owned by the runner, so arguments that would add inputs or
// change overwrite behavior are rejected.
func SanitizeAndValidateArgs(args []string) error {
	for _, arg := range args {
		switch arg {
		case "-i", "-y", "-n":
			return fmt.Errorf("argument %s is managed by the runner", arg)
		}
		// exec.Command never runs a shell, but these have no business in codec options.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
