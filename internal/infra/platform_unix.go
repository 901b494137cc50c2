//go:build !windows

package infra

import (
	"runtime"
	"strconv"
)

// processQueries returns the fallback process listing commands for unix-like systems.
func processQueries() []processQuery {
	return []processQuery{
		{
			name:  "ps",
			args:  []string{"-axww", "-o", "pid=,command="},
			parse: parsePSOutput,
		},
	}
}

// portQueries returns the fallback listening-port commands for unix-like systems.
// Linux tries ss first (no root needed for own processes); lsof works everywhere else.
func portQueries(pid int) []portQuery {
	lsof := portQuery{
		name: "lsof",
		args: []string{"-nP", "-a", "-iTCP", "-sTCP:LISTEN", "-p", strconv.Itoa(pid), "-F", "n"},
		parse: func(out []byte, _ int) []int {
			return parseLsofOutput(out)
		},
	}

	if runtime.GOOS == "linux" {
		return []portQuery{
			{name: "ss", args: []string{"-tlnpH"}, parse: parseSSOutput},
			lsof,
		}
	}
	return []portQuery{lsof}
}
