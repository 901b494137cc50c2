package infra

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Parsers for discovery tool output. All of them skip lines they cannot
// understand; none of them fails on garbled input.

// parsePSOutput parses `ps -axww -o pid=,command=` output.
// Format: "  1234 /path/to/binary --flag value"
func parsePSOutput(out []byte) []domain.ProcessCandidate {
	var found []domain.ProcessCandidate
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pidStr, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}
		found = append(found, domain.ProcessCandidate{PID: pid, Invocation: strings.TrimSpace(rest)})
	}
	return found
}

// parseWMICSV parses `wmic process get CommandLine,ProcessId /format:csv` output.
// Format: "Node,CommandLine,ProcessId". The command line may itself contain commas,
// so the pid is taken from the last field and the command line from the middle.
func parseWMICSV(out []byte) []domain.ProcessCandidate {
	var found []domain.ProcessCandidate
	text := strings.ReplaceAll(string(out), "\r", "")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := strings.Index(line, ",")
		last := strings.LastIndex(line, ",")
		if first == -1 || last <= first {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(line[last+1:]))
		if err != nil || pid <= 0 {
			continue // header row or garbage
		}
		cmdline := strings.TrimSpace(line[first+1 : last])
		if cmdline == "" {
			continue
		}
		found = append(found, domain.ProcessCandidate{PID: pid, Invocation: cmdline})
	}
	return found
}

type cimProcess struct {
	ProcessID   int    `json:"ProcessId"`
	CommandLine string `json:"CommandLine"`
}

// parseCimJSON parses `Get-CimInstance Win32_Process | ConvertTo-Json` output,
// which is a single object for one match and an array otherwise.
func parseCimJSON(out []byte) []domain.ProcessCandidate {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}

	var list []cimProcess
	if trimmed[0] == '{' {
		var one cimProcess
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil
		}
		list = []cimProcess{one}
	} else if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil
	}

	var found []domain.ProcessCandidate
	for _, p := range list {
		if p.ProcessID <= 0 || p.CommandLine == "" {
			continue
		}
		found = append(found, domain.ProcessCandidate{PID: p.ProcessID, Invocation: p.CommandLine})
	}
	return found
}

// parseSSOutput parses `ss -tlnpH` output, keeping rows owned by pid.
// Format: "LISTEN 0 4096 127.0.0.1:42100 0.0.0.0:* users:(("language_server",pid=1234,fd=9))"
func parseSSOutput(out []byte, pid int) []int {
	marker := "pid=" + strconv.Itoa(pid) + ","
	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "LISTEN" {
			continue
		}
		if port := portFromAddr(fields[3]); port > 0 {
			ports = append(ports, port)
		}
	}
	return ports
}

// parseLsofOutput parses `lsof -nP -a -iTCP -sTCP:LISTEN -p <pid> -F n` output.
// Only "n" lines carry addresses: n127.0.0.1:42100, n*:42100, n[::1]:42100.
func parseLsofOutput(out []byte) []int {
	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[0] != 'n' {
			continue
		}
		addr := line[1:]
		// Established sockets show "local->remote"; listeners never do.
		if strings.Contains(addr, "->") {
			continue
		}
		if port := portFromAddr(addr); port > 0 {
			ports = append(ports, port)
		}
	}
	return ports
}

// parseNetstatOutput parses Windows `netstat -ano -p TCP` output, keeping LISTENING
// rows owned by pid.
// Format: "  TCP    127.0.0.1:42100    0.0.0.0:0    LISTENING    1234"
func parseNetstatOutput(out []byte, pid int) []int {
	pidStr := strconv.Itoa(pid)
	var ports []int
	for _, line := range strings.Split(strings.ReplaceAll(string(out), "\r", ""), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if !strings.EqualFold(fields[0], "TCP") || fields[3] != "LISTENING" || fields[4] != pidStr {
			continue
		}
		if port := portFromAddr(fields[1]); port > 0 {
			ports = append(ports, port)
		}
	}
	return ports
}

// portFromAddr extracts the port after the last ':' of an address.
// Returns 0 if the port is missing or out of range.
func portFromAddr(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 || idx == len(addr)-1 {
		return 0
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0
	}
	return port
}
