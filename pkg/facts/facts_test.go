package facts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/laoqin2024/LT-panle/pkg/ssh"
)

// fakeRunner serves canned results per command and records what ran.
type fakeRunner struct {
	results map[string]*ssh.Result
	errs    map[string]error
	ran     []string
}

func (r *fakeRunner) Run(ctx context.Context, command string, timeout time.Duration) (*ssh.Result, error) {
	r.ran = append(r.ran, command)
	if err, ok := r.errs[command]; ok {
		return nil, err
	}
	if res, ok := r.results[command]; ok {
		return res, nil
	}
	// Unknown commands behave like a missing binary.
	return &ssh.Result{Command: command, ExitCode: 127, Stderr: "command not found"}, nil
}

func (r *fakeRunner) didRun(command string) bool {
	for _, c := range r.ran {
		if c == command {
			return true
		}
	}
	return false
}

func okResult(stdout string) *ssh.Result {
	return &ssh.Result{ExitCode: 0, Stdout: stdout, Success: true}
}

func TestCollectAggregatesErrors(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdMemInfo: okResult("MemTotal: 1000 kB\nMemFree: 500 kB\n"),
		},
		errs: map[string]error{
			cmdCPUInfo: errors.New("channel refused"),
		},
	}

	f := NewCollector(runner).Collect(context.Background())

	if f.Memory == nil || f.Memory.Total != 1000*1024 {
		t.Fatalf("memory = %+v", f.Memory)
	}
	if f.CPU == nil || f.CPU.Error == "" {
		t.Fatal("failed cpu category must carry its error")
	}
	if len(f.Errors) == 0 {
		t.Fatal("want aggregated errors")
	}
	foundCPU := false
	for _, e := range f.Errors {
		if strings.HasPrefix(e, "cpu:") {
			foundCPU = true
		}
	}
	if !foundCPU {
		t.Fatalf("errors = %v", f.Errors)
	}
}

// A nonzero exit from a category command counts as a failure for that
// category only.
func TestCollectNonzeroExitIsCategoryFailure(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdDisk: {ExitCode: 1, Stderr: "df: permission denied"},
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if f.Disk == nil || !strings.Contains(f.Disk.Error, "permission denied") {
		t.Fatalf("disk = %+v", f.Disk)
	}
}

func TestCollectNetworkFallsBackToIfconfig(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdNetIP:       {ExitCode: 127, Stderr: "ip: not found"},
			cmdNetIfconfig: okResult(sampleIfconfig),
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if !runner.didRun(cmdNetIfconfig) {
		t.Fatal("ifconfig fallback never ran")
	}
	if f.Network == nil || len(f.Network.Interfaces) != 2 {
		t.Fatalf("network = %+v", f.Network)
	}
}

// ip exiting zero with empty output must also trigger the fallback; a
// silent success is indistinguishable from a missing tool.
func TestCollectNetworkFallsBackOnEmptyOutput(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdNetIP:       okResult("   \n"),
			cmdNetIfconfig: okResult(sampleIfconfig),
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if !runner.didRun(cmdNetIfconfig) {
		t.Fatal("ifconfig fallback never ran")
	}
	if len(f.Network.Interfaces) != 2 {
		t.Fatalf("network = %+v", f.Network)
	}
}

func TestCollectNetworkBothUnavailable(t *testing.T) {
	runner := &fakeRunner{}

	f := NewCollector(runner).Collect(context.Background())
	if f.Network == nil || f.Network.Error == "" {
		t.Fatalf("network = %+v", f.Network)
	}
}

func TestCollectCPUUsageVmstatFallback(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdCPUInfo:     okResult(sampleCpuinfo),
			cmdCPUUsageTop: {ExitCode: 127, Stderr: "top: not found"},
			cmdCPUUsageVM:  okResult("17.5\n"),
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if f.CPU.Usage != 17.5 {
		t.Fatalf("usage = %v", f.CPU.Usage)
	}
}

func TestCollectCPUUsagePrefersTop(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdCPUInfo:     okResult(sampleCpuinfo),
			cmdCPUUsageTop: okResult("42.0\n"),
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if f.CPU.Usage != 42 {
		t.Fatalf("usage = %v", f.CPU.Usage)
	}
	if runner.didRun(cmdCPUUsageVM) {
		t.Fatal("vmstat must not run when top succeeded")
	}
}

func TestCollectExtras(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*ssh.Result{
			cmdUptime:   okResult("2026-08-01 09:00:00\n"),
			cmdLoad:     okResult("up 3 days, load average: 1.00, 0.75, 0.50\n"),
			cmdHostname: okResult("web-01\n"),
			cmdTimezone: okResult("Time zone: Asia/Shanghai (CST, +0800)\n"),
			cmdDate:     okResult("2026-08-29 10:00:00 CST\n"),
			cmdUsers:    okResult("3\n"),
			cmdLang:     okResult("LANG=en_US.UTF-8\n"),
		},
	}

	f := NewCollector(runner).Collect(context.Background())
	if f.Hostname != "web-01" {
		t.Fatalf("hostname = %q", f.Hostname)
	}
	if f.Uptime != "2026-08-01 09:00:00" {
		t.Fatalf("uptime = %q", f.Uptime)
	}
	if f.LoadAverage == nil || f.LoadAverage.Load1 != 1.00 {
		t.Fatalf("load = %+v", f.LoadAverage)
	}
	if f.Timezone != "Asia/Shanghai" {
		t.Fatalf("timezone = %q", f.Timezone)
	}
	if f.LoggedInUsers == nil || *f.LoggedInUsers != 3 {
		t.Fatalf("users = %v", f.LoggedInUsers)
	}
	if f.Language != "en_US.UTF-8" {
		t.Fatalf("language = %q", f.Language)
	}
}
