package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/hub"
	"github.com/batalabs/knowd/internal/lockfile"
)

// HandleServiceCommand installs, removes, and drives the OS-level services
// for the bot and the standalone hub. The bot unit runs knowd with no
// flags; the hub unit runs knowd -hub.
func HandleServiceCommand(action string) error {
	switch strings.ToLower(action) {
	case "install":
		return serviceInstall()
	case "uninstall":
		return serviceUninstall()
	case "status":
		return serviceStatus()
	case "start":
		return serviceStart()
	case "stop":
		return serviceStop()
	case "install-hub":
		return hubServiceInstall()
	case "uninstall-hub":
		return hubServiceUninstall()
	case "start-hub":
		return hubServiceStart()
	case "stop-hub":
		return hubServiceStop()
	case "status-hub":
		return hubServiceStatus()
	default:
		return fmt.Errorf("unknown service action: %s (use install|uninstall|status|start|stop|install-hub|uninstall-hub|start-hub|stop-hub|status-hub)", action)
	}
}

const (
	botLaunchdLabel = "com.batalabs.knowd"
	hubLaunchdLabel = "com.batalabs.knowd-hub"
	botUnitName     = "knowd"
	hubUnitName     = "knowd-hub"
)

func launchdPlistPath(label string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
}

func systemdUnitPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "systemd", "user", name+".service"), nil
}

// unitEnv resolves the absolute working directory and log file the service
// unit should use. Services inherit the directory knowd was installed from;
// the data layout is rooted there.
func unitEnv(logName string) (workdir, logPath string, err error) {
	workdir, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("resolving working directory: %w", err)
	}
	logPath = filepath.Join(config.NewPaths(workdir).LogDir(), logName)
	return workdir, logPath, nil
}

// ---------------------------------------------------------------------------
// Bot service
// ---------------------------------------------------------------------------

func serviceInstall() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(botLaunchdLabel, exe, nil, "bot.log")
	case "linux":
		return installSystemd(botUnitName, "knowd bot", exe, nil, "bot.log")
	case "windows":
		return installWindowsRun(botUnitName, exe, nil)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func hubServiceInstall() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	args := []string{"-hub"}

	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(hubLaunchdLabel, exe, args, "mcp_hub.log")
	case "linux":
		return installSystemd(hubUnitName, "knowd MCP hub", exe, args, "mcp_hub.log")
	case "windows":
		return installWindowsRun(hubUnitName, exe, args)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func installLaunchd(label, exe string, args []string, logName string) error {
	path, err := launchdPlistPath(label)
	if err != nil {
		return err
	}
	workdir, logPath, err := unitEnv(logName)
	if err != nil {
		return err
	}

	var argXML strings.Builder
	argXML.WriteString(fmt.Sprintf("        <string>%s</string>\n", exe))
	for _, a := range args {
		argXML.WriteString(fmt.Sprintf("        <string>%s</string>\n", a))
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>WorkingDirectory</key>
    <string>%s</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`, label, argXML.String(), workdir, logPath, logPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}

	out, err := exec.Command("launchctl", "load", "-w", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl load: %s: %w", string(out), err)
	}

	fmt.Printf("Service installed: %s\n", path)
	return nil
}

func installSystemd(name, description, exe string, args []string, logName string) error {
	path, err := systemdUnitPath(name)
	if err != nil {
		return err
	}
	workdir, logPath, err := unitEnv(logName)
	if err != nil {
		return err
	}

	execStart := exe
	if len(args) > 0 {
		execStart += " " + strings.Join(args, " ")
	}

	unit := fmt.Sprintf(`[Unit]
Description=%s
After=network.target

[Service]
Type=simple
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5
StandardOutput=append:%s
StandardError=append:%s

[Install]
WantedBy=default.target
`, description, workdir, execStart, logPath, logPath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating systemd user dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		return fmt.Errorf("daemon-reload: %s: %w", string(out), err)
	}
	if out, err := exec.Command("systemctl", "--user", "enable", name).CombinedOutput(); err != nil {
		return fmt.Errorf("enable: %s: %w", string(out), err)
	}

	fmt.Printf("Service installed: %s\n", path)
	fmt.Println("NOTE: run 'loginctl enable-linger $USER' to keep it running after SSH logout.")
	return nil
}

func installWindowsRun(name, exe string, args []string) error {
	value := fmt.Sprintf(`"%s"`, exe)
	if len(args) > 0 {
		value += " " + strings.Join(args, " ")
	}
	out, err := exec.Command("reg", "add",
		`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
		"/v", name, "/t", "REG_SZ", "/d", value, "/f",
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reg add: %s: %w", strings.TrimSpace(string(out)), err)
	}

	fmt.Printf("Service installed (startup registry entry: HKCU\\...\\Run\\%s)\n", name)
	return nil
}

// ---------------------------------------------------------------------------
// Uninstall
// ---------------------------------------------------------------------------

func serviceUninstall() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd(botLaunchdLabel)
	case "linux":
		return uninstallSystemd(botUnitName)
	case "windows":
		return uninstallWindowsRun(botUnitName)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func hubServiceUninstall() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd(hubLaunchdLabel)
	case "linux":
		return uninstallSystemd(hubUnitName)
	case "windows":
		return uninstallWindowsRun(hubUnitName)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func uninstallLaunchd(label string) error {
	path, err := launchdPlistPath(label)
	if err != nil {
		return err
	}
	if err := exec.Command("launchctl", "unload", "-w", path).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service: launchctl unload: %v\n", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	fmt.Println("Service uninstalled.")
	return nil
}

func uninstallSystemd(name string) error {
	if err := exec.Command("systemctl", "--user", "stop", name).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl stop: %v\n", err)
	}
	if err := exec.Command("systemctl", "--user", "disable", name).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl disable: %v\n", err)
	}

	path, err := systemdUnitPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service: systemctl daemon-reload: %v\n", err)
	}

	fmt.Println("Service uninstalled.")
	return nil
}

func uninstallWindowsRun(name string) error {
	out, err := exec.Command("reg", "delete",
		`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
		"/v", name, "/f",
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reg delete: %s: %w", strings.TrimSpace(string(out)), err)
	}
	fmt.Println("Service uninstalled.")
	return nil
}

// ---------------------------------------------------------------------------
// Status / start / stop
// ---------------------------------------------------------------------------

func serviceStatus() error {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("launchctl", "list", botLaunchdLabel).CombinedOutput()
		if err != nil {
			fmt.Println("Service is not loaded.")
			return nil
		}
		fmt.Println(string(out))
		return nil

	case "linux":
		// systemctl status exits non-zero for inactive units; the output
		// is still the answer.
		out, _ := exec.Command("systemctl", "--user", "status", botUnitName).CombinedOutput()
		fmt.Println(string(out))
		return nil

	case "windows":
		out, err := exec.Command("reg", "query",
			`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
			"/v", botUnitName,
		).CombinedOutput()
		if err != nil {
			fmt.Println("Service is not installed.")
		} else {
			fmt.Println("Startup entry found:")
			fmt.Println(strings.TrimSpace(string(out)))
		}
		d, derr := lockfile.Read(config.NewPaths("").BotLockfile())
		if derr == nil && lockfile.IsProcessAlive(d.PID) {
			fmt.Printf("Bot running: PID %d\n", d.PID)
		} else {
			fmt.Println("Bot is not running.")
		}
		return nil

	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func hubServiceStatus() error {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("launchctl", "list", hubLaunchdLabel).CombinedOutput()
		if err != nil {
			fmt.Println("Hub service is not loaded.")
			return nil
		}
		fmt.Println(string(out))
		return nil

	case "linux":
		out, _ := exec.Command("systemctl", "--user", "status", hubUnitName).CombinedOutput()
		fmt.Println(string(out))
		return nil

	case "windows":
		out, err := exec.Command("reg", "query",
			`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
			"/v", hubUnitName,
		).CombinedOutput()
		if err != nil {
			fmt.Println("Hub service is not installed.")
		} else {
			fmt.Println("Hub startup entry found:")
			fmt.Println(strings.TrimSpace(string(out)))
		}
		lf, lfErr := hub.ReadLockfile(config.NewPaths("").HubLockfile())
		if lfErr == nil && lf.PID > 0 {
			fmt.Printf("Hub running: PID %d, port %d\n", lf.PID, lf.Port)
		} else {
			fmt.Println("Hub is not running.")
		}
		return nil

	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func serviceStart() error { return unitStart(botLaunchdLabel, botUnitName, nil) }

func hubServiceStart() error { return unitStart(hubLaunchdLabel, hubUnitName, []string{"-hub"}) }

func unitStart(label, name string, args []string) error {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("launchctl", "start", label).CombinedOutput()
		if err != nil {
			return fmt.Errorf("launchctl start: %s: %w", string(out), err)
		}
		fmt.Println("Service started.")
		return nil

	case "linux":
		out, err := exec.Command("systemctl", "--user", "start", name).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl start: %s: %w", string(out), err)
		}
		fmt.Println("Service started.")
		return nil

	case "windows":
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating executable: %w", err)
		}
		cmd := exec.Command(exe, args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", name, err)
		}
		// Detach; the process outlives this command.
		if err := cmd.Process.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "service: release process: %v\n", err)
		}
		fmt.Printf("Started (PID %d).\n", cmd.Process.Pid)
		return nil

	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func serviceStop() error {
	return unitStop(botLaunchdLabel, botUnitName, func() (int, error) {
		d, err := lockfile.Read(config.NewPaths("").BotLockfile())
		if err != nil {
			return 0, err
		}
		return d.PID, nil
	})
}

func hubServiceStop() error {
	return unitStop(hubLaunchdLabel, hubUnitName, func() (int, error) {
		lf, err := hub.ReadLockfile(config.NewPaths("").HubLockfile())
		if err != nil {
			return 0, err
		}
		return lf.PID, nil
	})
}

func unitStop(label, name string, pid func() (int, error)) error {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("launchctl", "stop", label).CombinedOutput()
		if err != nil {
			return fmt.Errorf("launchctl stop: %s: %w", string(out), err)
		}
		fmt.Println("Service stopped.")
		return nil

	case "linux":
		out, err := exec.Command("systemctl", "--user", "stop", name).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl stop: %s: %w", string(out), err)
		}
		fmt.Println("Service stopped.")
		return nil

	case "windows":
		id, err := pid()
		if err != nil {
			return fmt.Errorf("no running %s found (no lockfile)", name)
		}
		proc, err := os.FindProcess(id)
		if err != nil {
			return fmt.Errorf("finding process: %w", err)
		}
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("killing process: %w", err)
		}
		fmt.Println("Service stopped.")
		return nil

	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
