package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/mwantia/clickpoints/pkg/log"
)

// ErrAlreadyRunning is returned when another instance holds the lock. The
// arguments were forwarded to it.
var ErrAlreadyRunning = errors.New("another instance is already running")

const (
	lockName    = "clickpoints.lock"
	commandName = "clickpoints.cmd"
)

// Lock marks the running instance and receives the arguments of later
// invocations through a watched command file.
type Lock struct {
	mu  sync.Mutex
	dir string
	log log.LoggerService
}

// AcquireLock claims dir for this process. If a live process holds the lock,
// args are appended to its command file and ErrAlreadyRunning is returned.
func AcquireLock(dir string, args []string, logger log.LoggerService) (*Lock, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := filepath.Join(dir, lockName)
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil && pid != os.Getpid() && processAlive(pid) {
			if err := forward(dir, args); err != nil {
				return nil, err
			}
			logger.Info("Forwarded %d argument(s) to running instance %d", len(args), pid)
			return nil, ErrAlreadyRunning
		}
		logger.Debug("Removing stale lock of process '%s'", strings.TrimSpace(string(data)))
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{dir: dir, log: logger}, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func forward(dir string, args []string) error {
	f, err := os.OpenFile(filepath.Join(dir, commandName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open command file: %w", err)
	}
	if _, err := fmt.Fprintln(f, strings.Join(args, "\t")); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() error {
	path := filepath.Join(l.dir, lockName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return nil
	}
	return os.Remove(path)
}

// take reads and clears the forwarded commands.
func (l *Lock) take() ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, commandName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var commands [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			commands = append(commands, strings.Split(line, "\t"))
		}
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(commands) > 0 {
		if err := os.Truncate(path, 0); err != nil {
			return commands, err
		}
	}
	return commands, nil
}

// Watch calls fn with the arguments of every forwarded invocation until ctx
// is cancelled.
func (l *Lock) Watch(ctx context.Context, fn func(args []string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("failed to watch '%s': %w", l.dir, err)
	}

	deliver := func() {
		commands, err := l.take()
		if err != nil {
			l.log.Warn("Unable to read forwarded commands: %v", err)
		}
		for _, args := range commands {
			fn(args)
		}
	}
	deliver()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == commandName && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				deliver()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("Command watcher error: %v", err)
		}
	}
}
