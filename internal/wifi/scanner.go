package wifi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// scanFields is the column list requested from nmcli for the bulk listing.
// The SSID is deliberately absent: it may contain whitespace, which would
// make the remaining columns ambiguous. Names are recovered per BSSID.
const scanFields = "ACTIVE,BSSID,SIGNAL,FREQ,CHAN,SECURITY,MODE"

// Scan lists nearby networks in two passes: one bulk listing for the
// attributes, then one lookup per BSSID for the display name and link rate.
func (m *NmcliManager) Scan(ctx context.Context) ([]Network, error) {
	out, err := m.runner.Run(ctx, m.nmcliPath, "-f", scanFields, "device", "wifi")
	if err != nil {
		return nil, err
	}
	if !out.Success() {
		slog.Error("nmcli scan failed", "exit_code", out.ExitCode, "stderr", strings.TrimSpace(string(out.Stderr)))
		return nil, fmt.Errorf("%w: nmcli exited with status %d", ErrCommandExecution, out.ExitCode)
	}

	rows := parseScanOutput(out.Stdout)
	networks := make([]Network, 0, len(rows))
	for _, n := range rows {
		detail, err := m.runner.Run(ctx, m.nmcliPath, "device", "wifi", "list", "bssid", n.BSSID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("BSSID lookup failed", "bssid", n.BSSID, "error", err)
			continue
		}
		if !detail.Success() {
			slog.Warn("BSSID lookup failed",
				"bssid", n.BSSID,
				"exit_code", detail.ExitCode,
				"stderr", strings.TrimSpace(string(detail.Stderr)))
			continue
		}

		name, speed := parseDetailOutput(detail.Stdout, n.BSSID)
		if name == "" || name == "--" {
			n.Hidden = true
			name = ""
		}
		n.SSID = name
		n.Speed = speed
		networks = append(networks, n)
	}

	slog.Debug("Scan complete", "networks", len(networks))
	return networks, nil
}

// parseScanOutput parses the bulk listing, skipping the header row and rows
// with too few columns.
func parseScanOutput(stdout []byte) []Network {
	var networks []Network
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		if n, ok := parseScanRow(scanner.Text()); ok {
			networks = append(networks, n)
		}
	}
	return networks
}

// parseScanRow parses "ACTIVE BSSID SIGNAL FREQ [MHz] CHAN SECURITY... MODE".
func parseScanRow(line string) (Network, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Network{}, false
	}

	n := Network{
		InUse:     fields[0] == "yes",
		BSSID:     fields[1],
		Signal:    parseInt(fields[2]),
		Frequency: uint32(parseUint(fields[3], 32)),
	}

	rest := fields[4:]
	if strings.EqualFold(rest[0], "MHz") {
		rest = rest[1:]
	}
	// CHAN, at least one SECURITY token, MODE.
	if len(rest) < 3 {
		return Network{}, false
	}

	n.Channel = uint8(parseUint(rest[0], 8))
	n.Security = ParseSecurity(rest[1 : len(rest)-1])
	n.Mode = ParseMode(rest[len(rest)-1])
	return n, true
}

// parseDetailOutput extracts the display name and link rate from
// `nmcli device wifi list bssid <BSSID>`. The name is the token run between
// the leading in-use/BSSID columns and the first MODE label. An SSID that
// itself contains a mode word is truncated there; nmcli offers no delimiter
// to do better in this output format.
func parseDetailOutput(stdout []byte, bssid string) (string, *uint32) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		tokens := strings.Fields(scanner.Text())
		if len(tokens) < 2 {
			continue
		}

		if tokens[0] == "*" {
			tokens = tokens[1:]
		}
		if len(tokens) > 0 && strings.EqualFold(tokens[0], bssid) {
			tokens = tokens[1:]
		}

		modeAt := len(tokens)
		for i, tok := range tokens {
			if isModeLabel(tok) {
				modeAt = i
				break
			}
		}
		name := strings.Join(tokens[:modeAt], " ")

		// MODE CHAN RATE Mbit/s ...
		var speed *uint32
		if modeAt+3 < len(tokens) && strings.HasPrefix(tokens[modeAt+3], "Mbit") {
			if v, err := strconv.ParseUint(tokens[modeAt+2], 10, 32); err == nil {
				rate := uint32(v)
				speed = &rate
			}
		}
		return name, speed
	}
	return "", nil
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func parseUint(s string, bits int) uint64 {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0
	}
	return v
}
