// Demo client: drives a running pruner service end to end. Creates a
// study, asks for suggestions, reports fake losses and lets the
// percentile pruner kill the losers.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pruner-io/pruner/internal/core/domain"
)

var base string

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	base = os.Getenv("PRUNER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	fmt.Println("=== Pruner demo against", base, "===")

	// 1. Create a study: minimize loss over a single learning rate.
	study := domain.Study{
		ID: fmt.Sprintf("demo-%d", time.Now().Unix()),
		Spec: domain.StudySpec{
			Parameters: []domain.ParameterSpec{
				{Name: "lr", Type: domain.ParameterDouble, Min: 0, Max: 1},
			},
			Metrics: []domain.MetricSpec{
				{Name: "loss", Goal: domain.GoalMinimize},
			},
			Designer: domain.DesignerSpec{Name: "random", Seed: 42},
			Pruner:   domain.PrunerSpec{Name: "percentile", Percentile: 50},
		},
	}
	if err := call(http.MethodPost, "/api/v1/studies", study, &study); err != nil {
		log.Fatalf("create study: %v", err)
	}
	fmt.Println("Created study", study.ID)

	// 2. Ask the designer for a batch of trials.
	var trials []domain.Trial
	suggest := map[string]any{"count": 4, "client_id": "demo"}
	if err := call(http.MethodPost, "/api/v1/studies/"+study.ID+"/trials:suggest", suggest, &trials); err != nil {
		log.Fatalf("suggest trials: %v", err)
	}
	for _, trial := range trials {
		fmt.Printf("Suggested trial %d: lr=%.3f\n", trial.ID, trial.Parameters["lr"].Number)
	}

	// 3. Report a few steps per trial. The loss curve bottoms out at
	// lr=0.3, so far-off trials stay visibly worse.
	for step := int64(0); step < 3; step++ {
		for _, trial := range trials {
			lr := trial.Parameters["lr"].Number
			loss := (lr-0.3)*(lr-0.3) + 1.0/float64(step+1)
			m := domain.Measurement{Step: step, Metrics: map[string]float64{"loss": loss}}
			path := fmt.Sprintf("/api/v1/studies/%s/trials/%d/measurements", study.ID, trial.ID)
			if err := call(http.MethodPost, path, m, nil); err != nil {
				log.Fatalf("report measurement: %v", err)
			}
		}
	}

	// 4. Ask the stopping policy for verdicts.
	var op domain.StopOperation
	if err := call(http.MethodPost, "/api/v1/studies/"+study.ID+"/trials:checkStopping", map[string]any{}, &op); err != nil {
		log.Fatalf("check stopping: %v", err)
	}
	fmt.Println("Stop operation", op.ID, "policy", op.Policy)
	for _, dec := range op.Decisions.Decisions {
		verdict := "continue"
		if dec.ShouldStop {
			verdict = "STOP (" + dec.Reason + ")"
		}
		fmt.Printf("  trial %d: %s\n", dec.TrialID, verdict)
	}

	// 5. Acknowledge the verdicts: finish stopped trials as stopped,
	// the survivors as succeeded.
	for _, dec := range op.Decisions.Decisions {
		state := domain.TrialSucceeded
		if dec.ShouldStop {
			state = domain.TrialStopped
		}
		body := map[string]any{"state": state}
		path := fmt.Sprintf("/api/v1/studies/%s/trials/%d/complete", study.ID, dec.TrialID)
		if err := call(http.MethodPost, path, body, nil); err != nil {
			log.Fatalf("complete trial %d: %v", dec.TrialID, err)
		}
	}

	// 6. Final standing.
	if err := call(http.MethodGet, "/api/v1/studies/"+study.ID+"/trials", nil, &trials); err != nil {
		log.Fatalf("list trials: %v", err)
	}
	fmt.Println("=== Final trials ===")
	for _, trial := range trials {
		final := "-"
		if trial.Final != nil {
			final = fmt.Sprintf("%.3f", trial.Final.Metrics["loss"])
		}
		fmt.Printf("  trial %d: lr=%.3f state=%s loss=%s\n",
			trial.ID, trial.Parameters["lr"].Number, trial.State, final)
	}
}

func call(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
