package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func main() {
	responsesPath := flag.String("responses", "", "path to the responses .xlsx file")
	codesPath := flag.String("codes", "", "path to the codebook .xlsx file")
	jobPath := flag.String("job", "", "path to a YAML file listing column configurations")
	columnsFlag := flag.String("columns", "", "comma-separated column names; append :single for single-response columns")
	review := flag.Bool("review", false, "run the review pass after coding")
	frequent := flag.Bool("frequent", false, "print the most frequent responses per column and exit")
	reviewOnly := flag.Bool("review-only", false, "only review already-coded files, do not code")
	resumeSkip := flag.Bool("skip-first", false, "on resume, mark the first uncoded response as uncodeable and move on")
	flag.Parse()

	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	os.MkdirAll(cfg.OutputDir, 0755)

	sessions, err := NewSessionManager(db, cfg.WorkDir)
	if err != nil {
		log.Fatalf("Failed to init session manager: %v", err)
	}
	sessions.StartCleanupScheduler(cfg.CleanupSchedule, time.Duration(cfg.SessionTTLHours)*time.Hour)

	if *responsesPath == "" || *codesPath == "" {
		log.Fatalf("both -responses and -codes are required")
	}

	columns, err := loadColumns(*jobPath, *columnsFlag)
	if err != nil {
		log.Fatalf("Invalid column configuration: %v", err)
	}
	if len(columns) == 0 {
		log.Fatalf("no columns configured (use -job or -columns)")
	}

	runner := NewRunner(cfg, db, sessions)

	session, err := sessions.Create()
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	if _, err := sessions.AttachFile(session.ID, SlotResponses, *responsesPath); err != nil {
		log.Fatalf("Failed to attach responses file: %v", err)
	}
	if _, err := sessions.AttachFile(session.ID, SlotCodes, *codesPath); err != nil {
		log.Fatalf("Failed to attach codes file: %v", err)
	}

	// First Ctrl-C requests a cooperative stop; the run checkpoints and exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("Interrupt received, stopping after the current response...")
		runner.Stop(session.ID)
	}()

	log.Println("Starting Survey Coder...")

	if *frequent {
		groups, err := runner.FrequentResponses(session.ID, columnNames(columns))
		if err != nil {
			log.Fatalf("Frequent-responses analysis failed: %v", err)
		}
		printFrequentResponses(groups)
		return
	}

	if *reviewOnly {
		runReviewPass(runner, session.ID, "", "", columnNames(columns))
		return
	}

	job := CodingJob{Columns: columns, SkipFirstUncoded: *resumeSkip}
	if cfg.ManualMappingsPath != "" {
		mappings, err := LoadManualMappings(cfg.ManualMappingsPath)
		if err != nil {
			log.Fatalf("Failed to load manual mappings: %v", err)
		}
		job.ManualMappings = mappings
	}

	handle, err := runner.StartCoding(session.ID, job)
	if err != nil {
		log.Fatalf("Failed to start coding: %v", err)
	}
	go logEvents(handle.notifier.Events())

	outputs, _, err := runner.Wait(session.ID)
	if err != nil {
		log.Fatalf("Coding run failed: %v", err)
	}
	if outputs.ResponsesPath == "" {
		log.Println("Run stopped before completion; checkpoint kept for resume")
		return
	}
	fmt.Printf("Responses: %s\nCodebook:  %s\n", outputs.ResponsesPath, outputs.CodesPath)

	if *review {
		runReviewPass(runner, session.ID, outputs.ResponsesPath, outputs.CodesPath, columnNames(columns))
	}
}

func printFrequentResponses(groups map[string][]ResponseGroup) {
	for col, gs := range groups {
		fmt.Printf("Column %s:\n", col)
		for _, g := range gs {
			fmt.Printf("  %4d  %s (%d variants)\n", g.Count, g.DisplayText, len(g.Variations))
		}
	}
}

func runReviewPass(runner *Runner, sessionID, responsesPath, codesPath string, columns []string) {
	handle, err := runner.StartReview(sessionID, responsesPath, codesPath, columns)
	if err != nil {
		log.Fatalf("Failed to start review: %v", err)
	}
	go logEvents(handle.notifier.Events())

	_, result, err := runner.Wait(sessionID)
	if err != nil {
		log.Fatalf("Review run failed: %v", err)
	}
	fmt.Printf("Reviewed:  %s (%d corrections over %d rows)\n", result.OutputPath, result.Corrections, result.RowsReviewed)
}

func logEvents(events <-chan Event) {
	for e := range events {
		switch e.Kind {
		case EventStatus:
			log.Printf("status: %s", e.Message)
		case EventColumnStarted:
			log.Printf("column: %s", e.Column)
		case EventError:
			log.Printf("error: %s", e.Message)
		}
	}
}

// loadColumns merges the YAML job file and the -columns flag; the flag wins
// on name collisions.
func loadColumns(jobPath, columnsFlag string) ([]ColumnConfig, error) {
	var columns []ColumnConfig

	if jobPath != "" {
		data, err := os.ReadFile(jobPath)
		if err != nil {
			return nil, fmt.Errorf("read job file: %w", err)
		}
		var jobFile struct {
			Columns []ColumnConfig `yaml:"columns"`
		}
		if err := yaml.Unmarshal(data, &jobFile); err != nil {
			return nil, fmt.Errorf("parse job file: %w", err)
		}
		columns = jobFile.Columns
	}

	for _, spec := range strings.Split(columnsFlag, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		cc := ColumnConfig{MultiLabel: true}
		if name, opt, found := strings.Cut(spec, ":"); found {
			switch opt {
			case "single":
				cc.MultiLabel = false
			case "multi":
			default:
				return nil, fmt.Errorf("unknown column option %q in %q", opt, spec)
			}
			cc.Name = name
		} else {
			cc.Name = spec
		}

		replaced := false
		for i := range columns {
			if columns[i].Name == cc.Name {
				columns[i] = cc
				replaced = true
				break
			}
		}
		if !replaced {
			columns = append(columns, cc)
		}
	}
	return columns, nil
}

func columnNames(columns []ColumnConfig) []string {
	names := make([]string, 0, len(columns))
	for _, cc := range columns {
		names = append(names, cc.Name)
	}
	return names
}
