package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CmdlinePattern maps a command-line substring to a threat category and the
// confidence a match carries.
type CmdlinePattern struct {
	Pattern    string  `yaml:"pattern"`
	Category   string  `yaml:"category"`
	Confidence float64 `yaml:"confidence"`
}

// IndicatorSet is the declarative content of the rule-based classifier and
// the feature extractor: the engine (priority order, confidence aggregation)
// is code, the indicator lists are data. Any list left empty in a loaded
// file keeps its compiled-in default.
type IndicatorSet struct {
	SafeProcesses     []string         `yaml:"safe_processes"`
	MaliciousTools    []string         `yaml:"malicious_tools"`
	Typosquats        []string         `yaml:"typosquats"`
	SuspiciousPorts   []int            `yaml:"suspicious_ports"`
	CmdlinePatterns   []CmdlinePattern `yaml:"cmdline_patterns"`
	EncodedMarkers    []string         `yaml:"encoded_markers"`
	DownloadMarkers   []string         `yaml:"download_markers"`
	ConnectMarkers    []string         `yaml:"connect_markers"`
	EncryptMarkers    []string         `yaml:"encrypt_markers"`
	CredentialMarkers []string         `yaml:"credential_markers"`
	LateralMarkers    []string         `yaml:"lateral_markers"`
	PrivEscNames      []string         `yaml:"priv_esc_names"`

	portSet map[int]struct{}
}

// DefaultIndicatorSet returns the compiled-in indicator content.
func DefaultIndicatorSet() *IndicatorSet {
	set := &IndicatorSet{
		SafeProcesses: []string{
			// OS core
			"svchost.exe", "csrss.exe", "lsass.exe", "services.exe", "wininit.exe",
			"winlogon.exe", "explorer.exe", "smss.exe", "dwm.exe", "conhost.exe",
			"taskhostw.exe", "runtimebroker.exe", "searchindexer.exe", "msmpeng.exe",
			"systemd", "init", "kthreadd",
			// browsers
			"chrome.exe", "firefox.exe", "msedge.exe", "brave.exe", "opera.exe", "safari",
			// dev tools, shells, build tools
			"code.exe", "devenv.exe", "idea64.exe", "pycharm64.exe", "goland64.exe",
			"python", "node.exe", "npm", "java.exe", "dotnet.exe", "msbuild.exe",
			"go.exe", "cargo.exe", "gcc", "make", "cmake", "git.exe", "docker",
			"bash", "zsh", "pwsh.exe", "windowsterminal.exe", "ssh.exe",
			// office / communication
			"outlook.exe", "winword.exe", "excel.exe", "powerpnt.exe",
			"teams.exe", "slack.exe", "zoom.exe", "discord.exe",
			// databases
			"postgres", "mysqld", "mongod", "redis-server", "sqlservr.exe",
		},
		MaliciousTools: []string{
			"mimikatz", "psexec", "procdump", "lazagne", "winpeas", "linpeas",
			"bloodhound", "sharphound", "rubeus", "kerbrute", "cobaltstrike",
			"cobalt", "beacon", "meterpreter", "metsvc", "powercat",
			"emotet", "trickbot", "qbot", "dridex", "njrat", "asyncrat",
			"quasarrat", "lockbit", "revil", "conti", "ryuk", "xmrig",
			"wannacry", "notpetya", "chisel", "secretsdump", "wmiexec", "smbexec",
		},
		Typosquats: []string{
			"svchosts.exe", "scvhost.exe", "svhost.exe", "svchost32.exe",
			"csrs.exe", "csrrs.exe", "cssrs.exe", "csrss32.exe",
			"explore.exe", "explorar.exe", "explorer32.exe",
			"lsas.exe", "lsass32.exe", "lsasss.exe",
			"winlogin.exe", "winlogon32.exe",
			"taskhosts.exe", "rundl32.exe", "rundll.exe",
		},
		// 4444 metasploit, 5555 android debug, 6666 irc, 31337 back orifice,
		// 12345 netbus, 1337 common c2
		SuspiciousPorts: []int{4444, 5555, 6666, 31337, 12345, 1337},
		CmdlinePatterns: []CmdlinePattern{
			{Pattern: "-encodedcommand", Category: "malware", Confidence: 0.85},
			{Pattern: "-enc ", Category: "malware", Confidence: 0.8},
			{Pattern: "base64", Category: "malware", Confidence: 0.75},
			{Pattern: "downloadstring", Category: "malware", Confidence: 0.85},
			{Pattern: "invoke-expression", Category: "malware", Confidence: 0.8},
			{Pattern: "iex(", Category: "malware", Confidence: 0.8},
			{Pattern: "-urlcache", Category: "malware", Confidence: 0.8},
			{Pattern: "-windowstyle hidden", Category: "malware", Confidence: 0.75},
			{Pattern: "-w hidden", Category: "malware", Confidence: 0.75},
			{Pattern: "net user /add", Category: "privilege_escalation", Confidence: 0.85},
			{Pattern: "net localgroup administrators", Category: "privilege_escalation", Confidence: 0.85},
			{Pattern: "currentversion\\run", Category: "malware", Confidence: 0.8},
			{Pattern: "sekurlsa", Category: "credential_dumping", Confidence: 0.95},
			{Pattern: "lsadump", Category: "credential_dumping", Confidence: 0.95},
			{Pattern: "-ma lsass", Category: "credential_dumping", Confidence: 0.9},
			{Pattern: "reverse-shell", Category: "trojan", Confidence: 0.9},
			{Pattern: "-e cmd", Category: "trojan", Confidence: 0.85},
			{Pattern: "-e /bin/sh", Category: "trojan", Confidence: 0.85},
			{Pattern: "ransom", Category: "ransomware", Confidence: 0.9},
			{Pattern: "encrypt", Category: "ransomware", Confidence: 0.8},
			{Pattern: "vssadmin delete shadows", Category: "ransomware", Confidence: 0.95},
			{Pattern: "wbadmin delete", Category: "ransomware", Confidence: 0.9},
			{Pattern: "wmic /node", Category: "lateral_movement", Confidence: 0.8},
			{Pattern: "winrs -r:", Category: "lateral_movement", Confidence: 0.8},
		},
		EncodedMarkers:    []string{"encodedcommand", "-enc ", "base64", "frombase64string"},
		DownloadMarkers:   []string{"download", "wget", "curl", "invoke-webrequest", "urlcache", "bitsadmin"},
		ConnectMarkers:    []string{"connect", "reverse", "shell", "-e cmd", "nc ", "ncat"},
		EncryptMarkers:    []string{"encrypt", "ransom", "locker", "vssadmin", "wbadmin delete"},
		CredentialMarkers: []string{"sekurlsa", "lsadump", "procdump", "lsass", "ntds", "hashdump"},
		LateralMarkers:    []string{"\\\\", "wmic", "winrm", "psexec", "wmiexec", "smbexec"},
		PrivEscNames:      []string{"potato", "winpeas", "linpeas", "powerup", "seatbelt", "sharpup"},
	}
	set.normalize()
	return set
}

// LoadIndicatorSet reads indicator content from a YAML file. Lists the file
// omits fall back to the compiled-in defaults so partial overrides stay safe.
func LoadIndicatorSet(path string) (*IndicatorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator file: %w", err)
	}

	var loaded IndicatorSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse indicator file %s: %w", path, err)
	}

	set := DefaultIndicatorSet()
	if len(loaded.SafeProcesses) > 0 {
		set.SafeProcesses = loaded.SafeProcesses
	}
	if len(loaded.MaliciousTools) > 0 {
		set.MaliciousTools = loaded.MaliciousTools
	}
	if len(loaded.Typosquats) > 0 {
		set.Typosquats = loaded.Typosquats
	}
	if len(loaded.SuspiciousPorts) > 0 {
		set.SuspiciousPorts = loaded.SuspiciousPorts
	}
	if len(loaded.CmdlinePatterns) > 0 {
		set.CmdlinePatterns = loaded.CmdlinePatterns
	}
	if len(loaded.EncodedMarkers) > 0 {
		set.EncodedMarkers = loaded.EncodedMarkers
	}
	if len(loaded.DownloadMarkers) > 0 {
		set.DownloadMarkers = loaded.DownloadMarkers
	}
	if len(loaded.ConnectMarkers) > 0 {
		set.ConnectMarkers = loaded.ConnectMarkers
	}
	if len(loaded.EncryptMarkers) > 0 {
		set.EncryptMarkers = loaded.EncryptMarkers
	}
	if len(loaded.CredentialMarkers) > 0 {
		set.CredentialMarkers = loaded.CredentialMarkers
	}
	if len(loaded.LateralMarkers) > 0 {
		set.LateralMarkers = loaded.LateralMarkers
	}
	if len(loaded.PrivEscNames) > 0 {
		set.PrivEscNames = loaded.PrivEscNames
	}
	set.normalize()
	return set, nil
}

func (s *IndicatorSet) normalize() {
	lower := func(items []string) {
		for i := range items {
			items[i] = strings.ToLower(items[i])
		}
	}
	lower(s.SafeProcesses)
	lower(s.MaliciousTools)
	lower(s.Typosquats)
	lower(s.EncodedMarkers)
	lower(s.DownloadMarkers)
	lower(s.ConnectMarkers)
	lower(s.EncryptMarkers)
	lower(s.CredentialMarkers)
	lower(s.LateralMarkers)
	lower(s.PrivEscNames)
	for i := range s.CmdlinePatterns {
		s.CmdlinePatterns[i].Pattern = strings.ToLower(s.CmdlinePatterns[i].Pattern)
	}
	s.portSet = make(map[int]struct{}, len(s.SuspiciousPorts))
	for _, port := range s.SuspiciousPorts {
		s.portSet[port] = struct{}{}
	}
}

// IsSuspiciousPort reports whether the port is on the watch list.
func (s *IndicatorSet) IsSuspiciousPort(port int) bool {
	_, ok := s.portSet[port]
	return ok
}

// SafeProcess reports whether a lowercased process name matches the safe
// list and returns the matching entry. Entries anchor at the start of the
// name and must cover it completely or end at a version-style boundary, so
// "python" covers "python3.11" but "git.exe" never covers
// "totally_legit.exe".
func (s *IndicatorSet) SafeProcess(name string) (string, bool) {
	for _, safe := range s.SafeProcesses {
		if safe == "" || !strings.HasPrefix(name, safe) {
			continue
		}
		if len(name) == len(safe) {
			return safe, true
		}
		switch name[len(safe)] {
		case '.', '-', '_', ' ':
			return safe, true
		}
		if name[len(safe)] >= '0' && name[len(safe)] <= '9' {
			return safe, true
		}
	}
	return "", false
}

// ContainsAny reports whether haystack contains any of the markers.
func ContainsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}
