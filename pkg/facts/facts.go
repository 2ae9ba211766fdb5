// Package facts collects hardware and OS inventory from managed hosts by
// running a battery of standard commands and parsing their output. Every
// category degrades independently; one broken command never aborts the run.
package facts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/ssh"
)

// Runner executes one remote command. *ssh.Executor satisfies this.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*ssh.Result, error)
}

// CPU describes the processor.
type CPU struct {
	Model        string  `json:"model"`
	Cores        int     `json:"cores"`
	Threads      int     `json:"threads"`
	Usage        float64 `json:"usage"`
	FrequencyMHz float64 `json:"frequency_mhz,omitempty"`
	CacheSize    string  `json:"cache_size,omitempty"`
	BogoMIPS     float64 `json:"bogomips,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Memory sizes are bytes.
type Memory struct {
	Total        int64   `json:"total"`
	Used         int64   `json:"used"`
	Free         int64   `json:"free"`
	Cached       int64   `json:"cached"`
	Buffers      int64   `json:"buffers"`
	UsagePercent float64 `json:"usage_percent"`
	Error        string  `json:"error,omitempty"`
}

// Disk is one mounted filesystem; sizes are bytes.
type Disk struct {
	Filesystem   string  `json:"filesystem"`
	Size         int64   `json:"size"`
	Used         int64   `json:"used"`
	Available    int64   `json:"available"`
	UsagePercent float64 `json:"usage_percent"`
	MountPoint   string  `json:"mount_point"`
}

type DiskReport struct {
	Disks []Disk `json:"disks"`
	Error string `json:"error,omitempty"`
}

// Interface is one network interface with cumulative counters.
type Interface struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	RxBytes   int64  `json:"rx_bytes"`
	TxBytes   int64  `json:"tx_bytes"`
	RxPackets int64  `json:"rx_packets"`
	TxPackets int64  `json:"tx_packets"`
}

type NetworkReport struct {
	Interfaces []Interface `json:"interfaces"`
	Error      string      `json:"error,omitempty"`
}

type OS struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	Codename     string `json:"codename,omitempty"`
	ID           string `json:"id,omitempty"`
	Error        string `json:"error,omitempty"`
}

type LoadAverage struct {
	Load1  float64 `json:"1min"`
	Load5  float64 `json:"5min"`
	Load15 float64 `json:"15min"`
}

// Facts is the full inventory of one collection run.
type Facts struct {
	CPU           *CPU           `json:"cpu,omitempty"`
	Memory        *Memory        `json:"memory,omitempty"`
	Disk          *DiskReport    `json:"disk,omitempty"`
	Network       *NetworkReport `json:"network,omitempty"`
	OS            *OS            `json:"os,omitempty"`
	Uptime        string         `json:"uptime,omitempty"`
	LoadAverage   *LoadAverage   `json:"load_average,omitempty"`
	Hostname      string         `json:"hostname,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	SystemTime    string         `json:"system_time,omitempty"`
	LoggedInUsers *int           `json:"logged_in_users,omitempty"`
	Language      string         `json:"language,omitempty"`

	// Errors lists the categories that failed, for operators reading the
	// stored document.
	Errors []string `json:"_errors,omitempty"`
}

// Commands run on the remote host. Fallback chains live in the shell so a
// missing primary tool degrades without a second round trip where possible.
const (
	cmdCPUInfo     = "cat /proc/cpuinfo"
	cmdCPUUsageTop = `top -bn1 | grep 'Cpu(s)' | sed 's/.*, *\([0-9.]*\)%* id.*/\1/' | awk '{print 100 - $1}'`
	cmdCPUUsageVM  = `vmstat 1 2 | tail -1 | awk '{print 100 - $15}'`
	cmdCPUDetail   = "lscpu 2>/dev/null || cat /proc/cpuinfo | grep -E 'cpu MHz|cache size|bogomips' | head -3"
	cmdMemInfo     = "cat /proc/meminfo"
	cmdDisk        = "df -h"
	cmdNetIP       = "ip -s link show"
	cmdNetIfconfig = "ifconfig -a 2>/dev/null || /sbin/ifconfig -a"
	cmdOS          = "uname -a && cat /etc/os-release 2>/dev/null || cat /etc/redhat-release 2>/dev/null || cat /etc/lsb-release 2>/dev/null"
	cmdUptime      = "uptime -s 2>/dev/null || uptime"
	cmdLoad        = "uptime"
	cmdHostname    = "hostname 2>/dev/null || hostname -f 2>/dev/null || cat /etc/hostname 2>/dev/null"
	cmdTimezone    = "timedatectl 2>/dev/null | grep 'Time zone' || date +%Z 2>/dev/null || cat /etc/timezone 2>/dev/null"
	cmdDate        = "date '+%Y-%m-%d %H:%M:%S %Z' 2>/dev/null || date"
	cmdUsers       = "who | wc -l 2>/dev/null || echo 0"
	cmdLang        = "echo $LANG 2>/dev/null || locale 2>/dev/null | grep LANG | head -1"

	longTimeout  = 10 * time.Second
	shortTimeout = 5 * time.Second
)

// Collector runs the inventory battery over one runner.
type Collector struct {
	runner Runner
}

func NewCollector(runner Runner) *Collector {
	return &Collector{runner: runner}
}

// Collect gathers everything it can. The returned Facts always carries
// whatever succeeded; failures land in per-category Error fields and the
// aggregate Errors list.
func (c *Collector) Collect(ctx context.Context) *Facts {
	f := &Facts{}

	c.collectCPU(ctx, f)
	c.collectMemory(ctx, f)
	c.collectDisk(ctx, f)
	c.collectNetwork(ctx, f)
	c.collectOS(ctx, f)
	c.collectExtras(ctx, f)

	if len(f.Errors) > 0 {
		logrus.Warnf("facts: collection partially failed: %v", f.Errors)
	}
	return f
}

// run executes one command and returns its stdout, folding transport
// failures and nonzero exits into a single error.
func (c *Collector) run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	res, err := c.runner.Run(ctx, command, timeout)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return res.Stdout, fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (f *Facts) addError(category string, err error) {
	f.Errors = append(f.Errors, fmt.Sprintf("%s: %v", category, err))
}

func (c *Collector) collectCPU(ctx context.Context, f *Facts) {
	out, err := c.run(ctx, cmdCPUInfo, longTimeout)
	if err != nil {
		f.addError("cpu", err)
		f.CPU = &CPU{Error: err.Error()}
		return
	}
	f.CPU = parseCPUInfo(out)

	// Usage via top first, vmstat when top is absent or reports idle.
	if out, err := c.run(ctx, cmdCPUUsageTop, shortTimeout); err == nil {
		if usage, ok := parsePercent(out); ok {
			f.CPU.Usage = usage
		}
	}
	if f.CPU.Usage == 0 {
		if out, err := c.run(ctx, cmdCPUUsageVM, shortTimeout); err == nil {
			if usage, ok := parsePercent(out); ok {
				f.CPU.Usage = usage
			}
		}
	}

	if out, err := c.run(ctx, cmdCPUDetail, shortTimeout); err == nil {
		parseCPUDetails(out, f.CPU)
	}
}

func (c *Collector) collectMemory(ctx context.Context, f *Facts) {
	out, err := c.run(ctx, cmdMemInfo, longTimeout)
	if err != nil {
		f.addError("memory", err)
		f.Memory = &Memory{Error: err.Error()}
		return
	}
	f.Memory = parseMemoryInfo(out)
}

func (c *Collector) collectDisk(ctx context.Context, f *Facts) {
	out, err := c.run(ctx, cmdDisk, longTimeout)
	if err != nil {
		f.addError("disk", err)
		f.Disk = &DiskReport{Error: err.Error()}
		return
	}
	f.Disk = parseDiskInfo(out)
}

// collectNetwork prefers ip; an unavailable or silent ip falls back to
// ifconfig before the category is declared failed.
func (c *Collector) collectNetwork(ctx context.Context, f *Facts) {
	out, err := c.run(ctx, cmdNetIP, longTimeout)
	if err != nil || strings.TrimSpace(out) == "" {
		out, err = c.run(ctx, cmdNetIfconfig, longTimeout)
		if err != nil || strings.TrimSpace(out) == "" {
			f.addError("network", fmt.Errorf("neither ip nor ifconfig usable"))
			f.Network = &NetworkReport{Error: "unable to read interface statistics"}
			return
		}
	}
	f.Network = parseNetworkInfo(out)
}

func (c *Collector) collectOS(ctx context.Context, f *Facts) {
	out, err := c.run(ctx, cmdOS, longTimeout)
	if err != nil {
		f.addError("os", err)
		f.OS = &OS{Error: err.Error()}
		return
	}
	f.OS = parseOSInfo(out)
}

// collectExtras gathers the low-stakes oddments. Failures here are logged
// but not reported; the fields just stay empty.
func (c *Collector) collectExtras(ctx context.Context, f *Facts) {
	if out, err := c.run(ctx, cmdUptime, shortTimeout); err == nil {
		f.Uptime = strings.TrimSpace(out)
	} else {
		logrus.Debugf("facts: uptime: %v", err)
	}

	if out, err := c.run(ctx, cmdLoad, shortTimeout); err == nil {
		f.LoadAverage = parseLoadAverage(out)
	}

	if out, err := c.run(ctx, cmdHostname, shortTimeout); err == nil {
		f.Hostname = strings.TrimSpace(out)
	}

	if out, err := c.run(ctx, cmdTimezone, shortTimeout); err == nil {
		f.Timezone = parseTimezone(out)
	}

	if out, err := c.run(ctx, cmdDate, shortTimeout); err == nil {
		f.SystemTime = strings.TrimSpace(out)
	}

	if out, err := c.run(ctx, cmdUsers, shortTimeout); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(out)); err == nil {
			f.LoggedInUsers = &n
		}
	}

	if out, err := c.run(ctx, cmdLang, shortTimeout); err == nil {
		f.Language = parseLanguage(out)
	}
}
