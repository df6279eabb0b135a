package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/pruner-io/pruner/internal/core/domain"
)

var createStudyCmd = &cobra.Command{
	Use:   "create-study [spec.yaml]",
	Short: "Register a study from a YAML spec with a running instance",
	Args:  cobra.ExactArgs(1),
	Run:   runCreateStudy,
}

func init() {
	rootCmd.AddCommand(createStudyCmd)
}

// studyDoc is the YAML shape of a study file: identity fields plus the
// spec exactly as the API stores it.
type studyDoc struct {
	ID    string           `yaml:"id"`
	Name  string           `yaml:"name"`
	Owner string           `yaml:"owner"`
	Spec  domain.StudySpec `yaml:"spec"`
}

func runCreateStudy(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("Failed to read study file", "error", err)
		os.Exit(1)
	}

	var doc studyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		slog.Error("Failed to parse study file", "error", err)
		os.Exit(1)
	}
	if err := doc.Spec.Validate(); err != nil {
		slog.Error("Invalid study spec", "error", err)
		os.Exit(1)
	}

	study := domain.Study{
		ID:    doc.ID,
		Name:  doc.Name,
		Owner: doc.Owner,
		Spec:  doc.Spec,
	}
	body, err := json.Marshal(study)
	if err != nil {
		slog.Error("Failed to encode study", "error", err)
		os.Exit(1)
	}

	// Goes through the running service so registry and state checks
	// apply, instead of writing to storage behind its back.
	base := os.Getenv("PRUNER_URL")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	resp, err := http.Post(base+"/api/v1/studies", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to reach service", "url", base, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("Service rejected study (%s): %s\n", resp.Status, bytes.TrimSpace(msg))
		os.Exit(1)
	}

	var created domain.Study
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		slog.Error("Failed to decode response", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created study %s (designer=%s, pruner=%s)\n",
		created.ID, created.Spec.Designer.Name, created.Spec.Pruner.Name)
}
