//go:build windows

package infra

// processQueries returns the fallback process listing commands for Windows.
// wmic is deprecated on recent builds, so PowerShell CIM is tried second.
func processQueries() []processQuery {
	return []processQuery{
		{
			name:  "wmic",
			args:  []string{"process", "where", "name like '%language_server%'", "get", "CommandLine,ProcessId", "/format:csv"},
			parse: parseWMICSV,
		},
		{
			name: "powershell",
			args: []string{
				"-NoProfile", "-NonInteractive", "-Command",
				`Get-CimInstance Win32_Process -Filter "Name like '%language_server%'" | Select-Object ProcessId,CommandLine | ConvertTo-Json`,
			},
			parse: parseCimJSON,
		},
	}
}

// portQueries returns the fallback listening-port commands for Windows.
func portQueries(_ int) []portQuery {
	return []portQuery{
		{name: "netstat", args: []string{"-ano", "-p", "TCP"}, parse: parseNetstatOutput},
	}
}
