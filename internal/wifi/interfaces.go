package wifi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Interfaces lists interface names from `ifconfig -a`. Each interface block
// starts with a line whose first token is "<name>:".
func (m *NmcliManager) Interfaces(ctx context.Context) ([]string, error) {
	out, err := m.runner.Run(ctx, m.ifconfigPath, "-a")
	if err != nil {
		return nil, err
	}
	if !out.Success() {
		slog.Error("ifconfig failed", "exit_code", out.ExitCode, "stderr", strings.TrimSpace(string(out.Stderr)))
		return nil, fmt.Errorf("%w: ifconfig exited with status %d", ErrCommandExecution, out.ExitCode)
	}
	return parseInterfaces(out.Stdout), nil
}

func parseInterfaces(stdout []byte) []string {
	names := []string{}
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		first := fields[0]
		if strings.HasSuffix(first, ":") && len(first) > 1 {
			names = append(names, strings.TrimSuffix(first, ":"))
		}
	}
	return names
}
