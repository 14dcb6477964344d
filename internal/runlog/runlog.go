package runlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// Root is where run directories are created.
var Root = filepath.Join(".driverpool", "runs")

// RunContext holds information about the current test run
type RunContext struct {
	ID        string    // Short unique identifier (8 chars)
	Timestamp time.Time // When the run started
	Dir       string    // Full path to the run directory
}

// New creates a new run context and initializes the run directory
func New() (*RunContext, error) {
	now := time.Now()
	shortID := uuid.New().String()[:8]

	// Format: .driverpool/runs/2025-01-15_143052_a1b2c3d4/
	dirName := fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), shortID)
	runDir := filepath.Join(Root, dirName)

	if err := os.MkdirAll(filepath.Join(runDir, screenshotDir), 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &RunContext{
		ID:        shortID,
		Timestamp: now,
		Dir:       runDir,
	}, nil
}

// LogPath returns the full path for a log file
func (r *RunContext) LogPath(name string) string {
	return filepath.Join(r.Dir, name+".log")
}

// CreateLogFile creates a log file and returns the file handle
func (r *RunContext) CreateLogFile(name string) (*os.File, error) {
	return os.Create(r.LogPath(name))
}

// WriteLog writes content to a log file
func (r *RunContext) WriteLog(name string, content []byte) error {
	return os.WriteFile(r.LogPath(name), content, 0644)
}

// AppendLog appends content to a log file
func (r *RunContext) AppendLog(name string, content []byte) error {
	f, err := os.OpenFile(r.LogPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(content)
	return err
}

const screenshotDir = "screenshots"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SaveScreenshot stores a PNG under the run's screenshots directory and
// returns its path. The name is sanitized for the filesystem and suffixed
// with a short random id, so scenarios sharing a name never overwrite each
// other.
func (r *RunContext) SaveScreenshot(name string, png []byte) (string, error) {
	base := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if base == "" {
		base = "screenshot"
	}
	if len(base) > 80 {
		base = base[:80]
	}

	path := filepath.Join(r.Dir, screenshotDir, fmt.Sprintf("%s_%s_%s.png", time.Now().Format("150405.000"), base, uuid.New().String()[:8]))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

// ListRuns returns all run directories sorted by most recent first
func ListRuns() ([]RunInfo, error) {
	entries, err := os.ReadDir(Root)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, err
	}

	var runs []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		runDir := filepath.Join(Root, entry.Name())
		logs, _ := listFiles(runDir, ".log")
		shots, _ := listFiles(filepath.Join(runDir, screenshotDir), ".png")

		runs = append(runs, RunInfo{
			Name:        entry.Name(),
			Dir:         runDir,
			Timestamp:   info.ModTime(),
			Logs:        logs,
			Screenshots: shots,
		})
	}

	// Directory names start with the run timestamp.
	sort.Slice(runs, func(i, j int) bool { return runs[i].Name > runs[j].Name })
	return runs, nil
}

// RunInfo contains information about a stored run
type RunInfo struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	Timestamp   time.Time `json:"timestamp"`
	Logs        []File    `json:"logs"`
	Screenshots []File    `json:"screenshots"`
}

// File is a log or screenshot stored in a run directory
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// HumanSize formats the file size for listings.
func (f File) HumanSize() string {
	return units.HumanSize(float64(f.Size))
}

func listFiles(dir, ext string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, File{
			Name: strings.TrimSuffix(entry.Name(), ext),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}

	return files, nil
}

// ErrInvalidName is returned for run or file names that would escape Root.
var ErrInvalidName = errors.New("invalid run or file name")

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// GetLogContent reads the content of a log file
func GetLogContent(runName, logName string) (string, error) {
	if !validName(runName) || !validName(logName) {
		return "", ErrInvalidName
	}
	content, err := os.ReadFile(filepath.Join(Root, runName, logName+".log"))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// GetScreenshot reads a stored screenshot
func GetScreenshot(runName, name string) ([]byte, error) {
	if !validName(runName) || !validName(name) {
		return nil, ErrInvalidName
	}
	return os.ReadFile(filepath.Join(Root, runName, screenshotDir, name+".png"))
}
