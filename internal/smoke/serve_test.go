package smoke

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func waitForLog(t *testing.T, path, msg string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), `"msg":"`+msg+`"`) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func TestSmoke_ServeFollowsTimezoneChange(t *testing.T) {
	bin := buildBinary(t)
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("local_timezone: UTC\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := exec.Command(bin, "serve", "--quiet")
	cmd.Env = append(os.Environ(), "GOTASKS_HOME="+home, "GOTASKS_TIMEZONE=", "TZ=")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start serve: %v", err)
	}
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	})

	logPath := filepath.Join(home, "logs", "system.jsonl")
	if !waitForLog(t, logPath, "gotasks serving", 8*time.Second) {
		t.Fatalf("serve did not start\noutput=%s", out.String())
	}

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("local_timezone: Europe/Berlin\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if !waitForLog(t, logPath, "config.yaml reloaded", 8*time.Second) {
		t.Fatalf("reload not observed\noutput=%s", out.String())
	}

	_ = cmd.Process.Signal(os.Interrupt)
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()
	select {
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatalf("serve did not exit after signal")
	case err := <-waitDone:
		if err != nil {
			t.Fatalf("serve exit: %v\noutput=%s", err, out.String())
		}
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read logs: %v", err)
	}
	var sawZone bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "instances recomputed" && entry["timezone"] == "Europe/Berlin" {
			sawZone = true
		}
		if entry["level"] == "ERROR" {
			t.Fatalf("unexpected error log: %s", scanner.Text())
		}
	}
	if !sawZone {
		t.Fatalf("no recompute in Europe/Berlin logged\nlogs=%s", data)
	}
}
