package facts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	reCPUModel    = regexp.MustCompile(`(?i)model name\s+:\s+(.+)`)
	reCPUProc     = regexp.MustCompile(`(?i)Processor\s+:\s+(.+)`)
	reCPUHardware = regexp.MustCompile(`(?i)Hardware\s+:\s+(.+)`)
	reCPUVendor   = regexp.MustCompile(`(?i)vendor_id\s+:\s+(.+)`)
	reCPUCores    = regexp.MustCompile(`(?i)cpu cores\s+:\s+(\d+)`)
	reCPUSockets  = regexp.MustCompile(`(?i)Core\(s\) per socket:\s+(\d+)`)
	reCPUSiblings = regexp.MustCompile(`(?i)siblings\s+:\s+(\d+)`)
	reCPUThreads  = regexp.MustCompile(`(?i)Thread\(s\) per core:\s+(\d+)`)
	reCPUCount    = regexp.MustCompile(`(?m)^processor\s*:`)
)

// parseCPUInfo reads /proc/cpuinfo style output. Field spellings vary
// across architectures, hence the alternates.
func parseCPUInfo(output string) *CPU {
	cpu := &CPU{}

	for _, re := range []*regexp.Regexp{reCPUModel, reCPUProc, reCPUHardware} {
		if m := re.FindStringSubmatch(output); m != nil {
			cpu.Model = strings.TrimSpace(m[1])
			break
		}
	}

	for _, re := range []*regexp.Regexp{reCPUCores, reCPUSockets} {
		if m := re.FindStringSubmatch(output); m != nil {
			cpu.Cores, _ = strconv.Atoi(m[1])
			break
		}
	}

	for _, re := range []*regexp.Regexp{reCPUSiblings, reCPUThreads} {
		if m := re.FindStringSubmatch(output); m != nil {
			cpu.Threads, _ = strconv.Atoi(m[1])
			break
		}
	}

	// Fall back to counting processor entries.
	if cpu.Cores == 0 {
		if n := len(reCPUCount.FindAllString(output, -1)); n > 0 {
			cpu.Cores = n
		}
	}

	if cpu.Model == "" {
		if m := reCPUVendor.FindStringSubmatch(output); m != nil {
			cpu.Model = strings.TrimSpace(m[1]) + " CPU"
		}
	}

	return cpu
}

// parsePercent accepts a bare number in [0, 100].
func parsePercent(output string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(output), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

var (
	reFreqLscpu    = regexp.MustCompile(`CPU MHz:\s+([\d.]+)`)
	reFreqCpuinfo  = regexp.MustCompile(`(?i)cpu MHz\s+:\s+([\d.]+)`)
	reFreqMax      = regexp.MustCompile(`CPU max MHz:\s+([\d.]+)`)
	reCacheL3      = regexp.MustCompile(`(?i)L3 cache:\s+(\d+)\s*([KMGT]?B?)`)
	reCacheCpuinfo = regexp.MustCompile(`(?i)cache size\s+:\s+(\d+)\s*([KMGT]?B?)`)
	reBogoLscpu    = regexp.MustCompile(`(?i)BogoMIPS:\s+([\d.]+)`)
	reBogoCpuinfo  = regexp.MustCompile(`(?i)bogomips\s+:\s+([\d.]+)`)
)

// parseCPUDetails enriches cpu with frequency, cache and BogoMIPS from
// lscpu or /proc/cpuinfo output.
func parseCPUDetails(output string, cpu *CPU) {
	for _, re := range []*regexp.Regexp{reFreqLscpu, reFreqCpuinfo, reFreqMax} {
		if m := re.FindStringSubmatch(output); m != nil {
			cpu.FrequencyMHz, _ = strconv.ParseFloat(m[1], 64)
			break
		}
	}

	for _, re := range []*regexp.Regexp{reCacheL3, reCacheCpuinfo} {
		if m := re.FindStringSubmatch(output); m != nil {
			unit := strings.ToUpper(m[2])
			if unit == "" {
				unit = "KB"
			}
			cpu.CacheSize = fmt.Sprintf("%s %s", m[1], unit)
			break
		}
	}

	for _, re := range []*regexp.Regexp{reBogoLscpu, reBogoCpuinfo} {
		if m := re.FindStringSubmatch(output); m != nil {
			cpu.BogoMIPS, _ = strconv.ParseFloat(m[1], 64)
			break
		}
	}
}

var (
	reMemTotal   = regexp.MustCompile(`MemTotal:\s+(\d+)\s+kB`)
	reMemFree    = regexp.MustCompile(`MemFree:\s+(\d+)\s+kB`)
	reMemCached  = regexp.MustCompile(`Cached:\s+(\d+)\s+kB`)
	reMemBuffers = regexp.MustCompile(`Buffers:\s+(\d+)\s+kB`)
)

// parseMemoryInfo reads /proc/meminfo. Used is derived the way free(1)
// classically did it: total minus free, cached and buffers.
func parseMemoryInfo(output string) *Memory {
	mem := &Memory{}

	grab := func(re *regexp.Regexp) int64 {
		if m := re.FindStringSubmatch(output); m != nil {
			kb, _ := strconv.ParseInt(m[1], 10, 64)
			return kb * 1024
		}
		return 0
	}

	mem.Total = grab(reMemTotal)
	mem.Free = grab(reMemFree)
	mem.Cached = grab(reMemCached)
	mem.Buffers = grab(reMemBuffers)

	if mem.Total > 0 {
		mem.Used = mem.Total - mem.Free - mem.Cached - mem.Buffers
		mem.UsagePercent = float64(mem.Used) / float64(mem.Total) * 100
	}
	return mem
}

var reSize = regexp.MustCompile(`^([\d.]+)([KMGT]?)$`)

// parseSizeToBytes converts df style sizes ("10G", "512M", "1.5T") to
// bytes using base 1024 units.
func parseSizeToBytes(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0
	}

	multipliers := map[string]int64{
		"K": 1024,
		"M": 1024 * 1024,
		"G": 1024 * 1024 * 1024,
		"T": 1024 * 1024 * 1024 * 1024,
	}

	if m := reSize.FindStringSubmatch(s); m != nil {
		number, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		if mult, ok := multipliers[m[2]]; ok {
			return int64(number * float64(mult))
		}
		return int64(number)
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(v)
	}
	return 0
}

// parseDiskInfo reads df -h output. Malformed rows are skipped so one odd
// mount never hides the rest.
func parseDiskInfo(output string) *DiskReport {
	report := &DiskReport{Disks: []Disk{}}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return report
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 5 {
			logrus.Debugf("facts: skipping malformed df row %q", line)
			continue
		}

		usePercent, err := strconv.ParseFloat(strings.TrimSuffix(parts[4], "%"), 64)
		if err != nil {
			usePercent = 0
		}
		mount := ""
		if len(parts) > 5 {
			mount = strings.Join(parts[5:], " ")
		}

		report.Disks = append(report.Disks, Disk{
			Filesystem:   parts[0],
			Size:         parseSizeToBytes(parts[1]),
			Used:         parseSizeToBytes(parts[2]),
			Available:    parseSizeToBytes(parts[3]),
			UsagePercent: usePercent,
			MountPoint:   mount,
		})
	}
	return report
}

var (
	reIPHeader      = regexp.MustCompile(`^\d+:\s+\S+:\s+<`)
	reIPIfaceState  = regexp.MustCompile(`^\d+:\s+(\S+):\s+<([^>]+)>\s+.*state\s+(\S+)`)
	reIPIface       = regexp.MustCompile(`^\d+:\s+(\S+):\s+<([^>]+)>`)
	reIPIfaceStart  = regexp.MustCompile(`^\d+:`)
	reFirstNumber   = regexp.MustCompile(`\d+`)
	reIfconfigRx    = regexp.MustCompile(`(?i)RX.*?packets\s+(\d+).*?bytes\s+(\d+)`)
	reIfconfigTx    = regexp.MustCompile(`(?i)TX.*?packets\s+(\d+).*?bytes\s+(\d+)`)
)

// parseNetworkInfo handles both ip -s link show and ifconfig -a output,
// autodetected from the first interface header.
func parseNetworkInfo(output string) *NetworkReport {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	isIP := false
	for i, line := range lines {
		if i >= 10 {
			break
		}
		if reIPHeader.MatchString(line) {
			isIP = true
			break
		}
	}

	if isIP {
		return parseIPLinkOutput(lines)
	}
	return parseIfconfigOutput(lines)
}

func parseIPLinkOutput(lines []string) *NetworkReport {
	report := &NetworkReport{Interfaces: []Interface{}}
	var cur *Interface

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if reIPIfaceStart.MatchString(line) {
			if cur != nil {
				report.Interfaces = append(report.Interfaces, *cur)
				cur = nil
			}
			var name, state string
			var flags []string
			if m := reIPIfaceState.FindStringSubmatch(line); m != nil {
				name, flags, state = m[1], strings.Split(m[2], ","), m[3]
			} else if m := reIPIface.FindStringSubmatch(line); m != nil {
				name, flags = m[1], strings.Split(m[2], ",")
			} else {
				continue
			}

			status := "down"
			if state != "" {
				if up := strings.ToUpper(state); up == "UP" || up == "UNKNOWN" {
					status = "up"
				}
			} else {
				for _, f := range flags {
					if strings.Contains(f, "UP") {
						status = "up"
						break
					}
				}
			}
			cur = &Interface{Name: name, Status: status}
			continue
		}

		if cur == nil {
			continue
		}

		// Counter values sit on the line after the RX:/TX: header.
		if strings.Contains(line, "RX:") && i+1 < len(lines) {
			nums := reFirstNumber.FindAllString(strings.TrimSpace(lines[i+1]), -1)
			if len(nums) > 0 {
				cur.RxBytes, _ = strconv.ParseInt(nums[0], 10, 64)
			}
			if len(nums) > 1 {
				cur.RxPackets, _ = strconv.ParseInt(nums[1], 10, 64)
			}
		} else if strings.Contains(line, "TX:") && i+1 < len(lines) {
			nums := reFirstNumber.FindAllString(strings.TrimSpace(lines[i+1]), -1)
			if len(nums) > 0 {
				cur.TxBytes, _ = strconv.ParseInt(nums[0], 10, 64)
			}
			if len(nums) > 1 {
				cur.TxPackets, _ = strconv.ParseInt(nums[1], 10, 64)
			}
		}
	}

	if cur != nil {
		report.Interfaces = append(report.Interfaces, *cur)
	}
	return report
}

func parseIfconfigOutput(lines []string) *NetworkReport {
	report := &NetworkReport{Interfaces: []Interface{}}
	var cur *Interface

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.Contains(line, ":") && !strings.HasPrefix(raw, " ") &&
			!strings.HasPrefix(raw, "\t") && !strings.HasPrefix(line, "inet") {
			if cur != nil {
				report.Interfaces = append(report.Interfaces, *cur)
			}
			name := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
			status := "down"
			if up := strings.ToUpper(line); strings.Contains(up, "UP") || strings.Contains(up, "RUNNING") {
				status = "up"
			}
			cur = &Interface{Name: name, Status: status}
			continue
		}

		if cur == nil {
			continue
		}
		if m := reIfconfigRx.FindStringSubmatch(line); m != nil {
			cur.RxPackets, _ = strconv.ParseInt(m[1], 10, 64)
			cur.RxBytes, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if m := reIfconfigTx.FindStringSubmatch(line); m != nil {
			cur.TxPackets, _ = strconv.ParseInt(m[1], 10, 64)
			cur.TxBytes, _ = strconv.ParseInt(m[2], 10, 64)
		}
	}

	if cur != nil {
		report.Interfaces = append(report.Interfaces, *cur)
	}
	return report
}

var (
	reOSID          = regexp.MustCompile(`(?im)^ID=["']?([^"'` + "\n" + `]+)["']?`)
	reOSName        = regexp.MustCompile(`(?im)^NAME=["']([^"']+)["']`)
	reOSVersionID   = regexp.MustCompile(`(?im)^VERSION_ID=["']?([^"'` + "\n" + `]+)["']?`)
	reOSVersion     = regexp.MustCompile(`VERSION="([^"]+)"`)
	reOSDistribRel  = regexp.MustCompile(`DISTRIB_RELEASE=(\S+)`)
	reOSCodename    = regexp.MustCompile(`(?im)VERSION_CODENAME=["']?([^"'` + "\n" + `]+)["']?`)
	reOSDistribCode = regexp.MustCompile(`DISTRIB_CODENAME=(\S+)`)
	reKernelVersion = regexp.MustCompile(`Linux version\s+(\S+)`)
	reKernelRelease = regexp.MustCompile(`(\d+\.\d+\.\d+[-\w]*)`)
	reArchMachine   = regexp.MustCompile(`Machine:\s+(\S+)`)
	reArchField     = regexp.MustCompile(`(?i)architecture:\s+(\S+)`)
	reArchToken     = regexp.MustCompile(`(?i)\b(x86_64|amd64|i386|i686|arm64|aarch64|ppc64le|s390x)\b`)
)

// distroMarkers maps substrings found in release files to display names,
// for outputs without a NAME= field.
var distroMarkers = []struct{ marker, name string }{
	{"Ubuntu", "Ubuntu"},
	{"Debian", "Debian"},
	{"CentOS", "CentOS"},
	{"Red Hat", "Red Hat Enterprise Linux"},
	{"RHEL", "Red Hat Enterprise Linux"},
	{"Fedora", "Fedora"},
	{"openSUSE", "openSUSE"},
	{"SUSE", "openSUSE"},
	{"Arch", "Arch Linux"},
	{"Alpine", "Alpine Linux"},
	{"Rocky", "Rocky Linux"},
	{"Oracle", "Oracle Linux"},
}

// parseOSInfo reads combined uname -a plus release file output.
func parseOSInfo(output string) *OS {
	osInfo := &OS{Name: "Unknown", Version: "Unknown", Kernel: "Unknown", Architecture: "Unknown"}

	if m := reOSID.FindStringSubmatch(output); m != nil {
		osInfo.ID = strings.ToLower(strings.TrimSpace(m[1]))
	}

	if m := reOSName.FindStringSubmatch(output); m != nil {
		osInfo.Name = strings.TrimSpace(m[1])
	} else {
		for _, d := range distroMarkers {
			if strings.Contains(output, d.marker) {
				osInfo.Name = d.name
				break
			}
		}
	}

	if m := reOSVersionID.FindStringSubmatch(output); m != nil {
		osInfo.Version = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	} else if m := reOSVersion.FindStringSubmatch(output); m != nil {
		osInfo.Version = m[1]
	} else if m := reOSDistribRel.FindStringSubmatch(output); m != nil {
		osInfo.Version = m[1]
	}

	if m := reOSCodename.FindStringSubmatch(output); m != nil {
		osInfo.Codename = strings.TrimSpace(m[1])
	} else if m := reOSDistribCode.FindStringSubmatch(output); m != nil {
		osInfo.Codename = m[1]
	}

	if m := reKernelVersion.FindStringSubmatch(output); m != nil {
		osInfo.Kernel = m[1]
	} else if m := reKernelRelease.FindStringSubmatch(output); m != nil {
		osInfo.Kernel = m[1]
	}

	for _, re := range []*regexp.Regexp{reArchMachine, reArchField, reArchToken} {
		if m := re.FindStringSubmatch(output); m != nil {
			osInfo.Architecture = normalizeArch(m[1])
			break
		}
	}

	return osInfo
}

func normalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64":
		return "x86_64"
	case "aarch64", "arm64":
		return "aarch64"
	case "i386", "i686":
		return "i386"
	default:
		return strings.ToLower(arch)
	}
}

var reLoadAverage = regexp.MustCompile(`load average:\s+([\d.]+),\s+([\d.]+),\s+([\d.]+)`)

func parseLoadAverage(output string) *LoadAverage {
	m := reLoadAverage.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	l1, _ := strconv.ParseFloat(m[1], 64)
	l5, _ := strconv.ParseFloat(m[2], 64)
	l15, _ := strconv.ParseFloat(m[3], 64)
	return &LoadAverage{Load1: l1, Load5: l5, Load15: l15}
}

var (
	reTimezoneField = regexp.MustCompile(`Time zone:\s+(\S+)`)
	reTimezoneName  = regexp.MustCompile(`([A-Z]+/[A-Z_]+)`)
)

func parseTimezone(output string) string {
	output = strings.TrimSpace(output)
	if m := reTimezoneField.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := reTimezoneName.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return output
}

var reLang = regexp.MustCompile(`LANG=(\S+)`)

func parseLanguage(output string) string {
	output = strings.TrimSpace(output)
	if m := reLang.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if output != "" && !strings.ContainsAny(output, " \t\n") {
		return output
	}
	return ""
}
