// Package audit keeps the durable trail of every dispatched action: a stub
// record at dispatch time, finalized exactly once with the job's terminal
// state. Records live as JSON files in a git repository, so the trail is
// append-only, timestamped, and reviewable with ordinary git tooling.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	recordDirPerm  = 0o750
	recordFilePerm = 0o600

	replacementChar = "-"

	// Retry configuration for git operations.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	gitTimeout = 30 * time.Second
)

// Store persists audit records in a git repository. The repository is the
// durable medium: memory indexes are rebuilt from it at startup.
type Store struct {
	gitURL   string
	repoPath string
	mu       sync.Mutex
}

// NewStore opens the audit repository. A gitURL starting with / or ./ is
// used as a local repository (initialized if needed); anything else is
// cloned and pushed to.
func NewStore(ctx context.Context, gitURL string) (*Store, error) {
	tempDir := filepath.Join(os.TempDir(), fmt.Sprintf("clubos-audit-%d", time.Now().Unix()))

	s := &Store{
		repoPath: tempDir,
		gitURL:   gitURL,
	}

	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	log.Printf("[INFO] Audit store initialized: %s (repo: %s)", gitURL, s.repoPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isLocal() {
		s.repoPath = s.gitURL

		if _, err := os.Stat(filepath.Join(s.repoPath, ".git")); os.IsNotExist(err) {
			if err := os.MkdirAll(s.repoPath, recordDirPerm); err != nil {
				return fmt.Errorf("failed to create repository directory: %w", err)
			}
			if err := s.runGitCommandWithRetry(ctx, "init"); err != nil {
				return fmt.Errorf("failed to init local repository: %w", err)
			}
			if err := s.runGitCommandWithRetry(ctx, "config", "user.email", "clubos@localhost"); err != nil {
				return err
			}
			if err := s.runGitCommandWithRetry(ctx, "config", "user.name", "ClubOS"); err != nil {
				return err
			}
			log.Printf("[INFO] Local audit repository initialized at %s", s.repoPath)
		} else {
			log.Printf("[INFO] Using existing local audit repository at %s", s.repoPath)
		}
	} else {
		log.Printf("[INFO] Cloning audit repository: %s", s.gitURL)
		if err := s.runGitCommandInDirWithRetry(ctx, "", "clone", s.gitURL, s.repoPath); err != nil {
			return fmt.Errorf("failed to clone audit repository: %w", err)
		}
		if err := s.runGitCommandWithRetry(ctx, "config", "user.email", "clubos@localhost"); err != nil {
			return err
		}
		if err := s.runGitCommandWithRetry(ctx, "config", "user.name", "ClubOS"); err != nil {
			return err
		}
	}

	actionsDir := filepath.Join(s.repoPath, "actions")
	if err := os.MkdirAll(actionsDir, recordDirPerm); err != nil {
		return fmt.Errorf("failed to create actions directory: %w", err)
	}

	log.Printf("[INFO] Audit store initialization completed in %v", time.Since(start))
	return nil
}

func (s *Store) isLocal() bool {
	return strings.HasPrefix(s.gitURL, "/") || strings.HasPrefix(s.gitURL, "./")
}

// SaveRecord writes one audit record and commits it. The same record is
// rewritten in place when it is finalized; records are never deleted. A
// filesystem failure is returned to the caller for queueing; git failures
// degrade to warnings so audit trouble never blocks dispatch.
func (s *Store) SaveRecord(ctx context.Context, record *clubos.AuditRecord) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" || record.JobID == "" {
		return errors.New("audit record missing ID or job ID")
	}

	monthDir := filepath.Join(s.repoPath, "actions", record.CreatedAt.UTC().Format("2006-01"))
	recordPath := filepath.Join(monthDir, sanitizeID(record.ID)+".json")

	// Security: Verify the path stays within repo bounds
	absRecordPath, err := filepath.Abs(recordPath)
	if err != nil {
		return fmt.Errorf("failed to resolve record path: %w", err)
	}
	absRepoPath, err := filepath.Abs(s.repoPath)
	if err != nil {
		return fmt.Errorf("failed to resolve repo path: %w", err)
	}
	if !strings.HasPrefix(absRecordPath, absRepoPath) {
		return errors.New("security error: path traversal detected")
	}

	if err := os.MkdirAll(monthDir, recordDirPerm); err != nil {
		return fmt.Errorf("failed to create month directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if err := os.WriteFile(recordPath, data, recordFilePerm); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	// Git operations with retry logic and graceful degradation.
	if err := retry.Do(func() error {
		return s.runGitCommand(ctx, "add", "-A")
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
		log.Printf("[WARN] Git add failed for audit record %s: %v", record.ID, err)
		return nil
	}

	status, err := retry.DoWithData(func() (string, error) {
		return s.runGitCommandOutput(ctx, "status", "--porcelain")
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		log.Printf("[WARN] Git status failed for audit record %s: %v", record.ID, err)
		return nil
	}

	if strings.TrimSpace(status) == "" {
		log.Printf("[DEBUG] Audit record %s: no changes to commit", record.ID)
		return nil
	}

	commitMsg := fmt.Sprintf("Dispatch %s at %s bay %s (job %s)", record.Action, record.Location, record.Bay, record.JobID)
	if record.Finalized() {
		commitMsg = fmt.Sprintf("Finalize job %s: %s", record.JobID, record.FinalState)
	}
	if err := retry.Do(func() error {
		return s.runGitCommand(ctx, "commit", "-m", commitMsg)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
		log.Printf("[WARN] Git commit failed for audit record %s: %v", record.ID, err)
		return nil
	}

	if !s.isLocal() {
		if err := retry.Do(func() error {
			return s.runGitCommand(ctx, "push")
		}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
			log.Printf("[WARN] Git push failed for audit record %s: %v", record.ID, err)
		}
	}

	log.Printf("[DEBUG] Audit record %s committed in %v", record.ID, time.Since(start))
	return nil
}

// LoadRecords reads every audit record in the repository, oldest first by
// creation time. Unreadable records are skipped with a warning rather than
// failing the whole load.
func (s *Store) LoadRecords(ctx context.Context) ([]*clubos.AuditRecord, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isLocal() {
		if err := retry.Do(func() error {
			return s.runGitCommand(ctx, "pull")
		}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
			log.Printf("[WARN] Git pull failed: %v (continuing with local data)", err)
		}
	}

	actionsDir := filepath.Join(s.repoPath, "actions")
	months, err := os.ReadDir(actionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*clubos.AuditRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read actions directory: %w", err)
	}

	var records []*clubos.AuditRecord
	failedCount := 0
	for _, month := range months {
		if !month.IsDir() {
			continue
		}
		monthDir := filepath.Join(actionsDir, month.Name())
		entries, err := os.ReadDir(monthDir)
		if err != nil {
			log.Printf("[WARN] Failed to read audit month %s: %v", month.Name(), err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(monthDir, entry.Name()))
			if err != nil {
				failedCount++
				log.Printf("[WARN] Failed to read audit record %s: %v", entry.Name(), err)
				continue
			}
			var record clubos.AuditRecord
			if err := json.Unmarshal(data, &record); err != nil {
				failedCount++
				log.Printf("[WARN] Failed to parse audit record %s: %v", entry.Name(), err)
				continue
			}
			records = append(records, &record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	log.Printf("[INFO] Loaded %d audit records (%d failed) in %v", len(records), failedCount, time.Since(start))
	return records, nil
}

func (s *Store) runGitCommand(ctx context.Context, args ...string) error {
	return s.runGitCommandInDir(ctx, s.repoPath, args...)
}

func (s *Store) runGitCommandWithRetry(ctx context.Context, args ...string) error {
	return s.runGitCommandInDirWithRetry(ctx, s.repoPath, args...)
}

func (s *Store) runGitCommandInDirWithRetry(ctx context.Context, dir string, args ...string) error {
	return retry.Do(func() error {
		return s.runGitCommandInDir(ctx, dir, args...)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

func (*Store) runGitCommandInDir(ctx context.Context, dir string, args ...string) error {
	// Bound git so a wedged remote cannot hang the caller.
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	output, err := cmd.CombinedOutput()
	duration := time.Since(start)

	if err != nil {
		log.Printf("[DEBUG] Git command failed in %v: git %v (error: %v, output: %s)",
			duration, args, err, string(output))
		return fmt.Errorf("git %v failed: %w\n%s", args, err, output)
	}

	log.Printf("[DEBUG] Git command completed in %v: git %v", duration, args)
	return nil
}

func (s *Store) runGitCommandOutput(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoPath

	output, err := cmd.Output()
	duration := time.Since(start)

	if err != nil {
		log.Printf("[DEBUG] Git output command failed in %v: git %v (error: %v)",
			duration, args, err)
		return "", fmt.Errorf("git %v failed: %w", args, err)
	}

	log.Printf("[DEBUG] Git output command completed in %v: git %v", duration, args)
	return string(output), nil
}

func sanitizeID(id string) string {
	const maxIDLength = 255

	// Drop path separators and relative components first so input like
	// "../../../etc/passwd" collapses to "etc-passwd".
	parts := strings.FieldsFunc(id, func(r rune) bool { return r == '/' || r == '\\' })
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	id = strings.Join(kept, replacementChar)

	for _, c := range []string{":", "*", "?", "\"", "<", ">", "|", " "} {
		id = strings.ReplaceAll(id, c, replacementChar)
	}
	id = strings.Trim(id, replacementChar)

	if id == "" {
		return "unknown"
	}
	if len(id) > maxIDLength {
		id = id[:maxIDLength]
	}
	return id
}
