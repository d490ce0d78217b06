package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

type WhisperConfig struct {
	PythonPath  string   // Python executable or uv
	ScriptsPath string   // Directory holding transcribe.py
	Model       string   // Whisper model name
	Environment []string // Additional environment variables
}

// Whisper runs the local transcribe.py script, which prints a JSON document
// with the detected language and whisper segments.
type Whisper struct {
	config WhisperConfig
	log    *logrus.Logger
}

var _ Engine = (*Whisper)(nil)

type scriptOutput struct {
	Language string       `json:"language"`
	Segments []rawSegment `json:"segments"`
	Error    string       `json:"error,omitempty"`
}

func NewWhisper(cfg WhisperConfig, log *logrus.Logger) (*Whisper, error) {
	if _, err := os.Stat(cfg.ScriptsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("scripts directory does not exist: %s", cfg.ScriptsPath)
	}
	if cfg.Model == "" {
		cfg.Model = "large-v3-turbo"
	}
	return &Whisper{config: cfg, log: log}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error) {
	const op = "Whisper.Transcribe"

	args := map[string]string{
		"audio":    audioPath,
		"model":    w.config.Model,
		"language": language,
	}
	output, err := w.runScript(ctx, "transcribe.py", args, []string{"json"})
	if err != nil {
		return nil, newEngineError(op, err, "script execution failed")
	}

	var out scriptOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, newEngineError(op, err, "invalid script output")
	}
	if out.Error != "" {
		return nil, newEngineError(op, nil, out.Error)
	}
	return toTranscript(out.Language, out.Segments), nil
}

func (w *Whisper) runScript(ctx context.Context, scriptName string, args map[string]string, flags []string) ([]byte, error) {
	scriptPath := filepath.Join(w.config.ScriptsPath, scriptName)

	cmdArgs := buildCommandArgs(scriptPath, args, flags)
	if filepath.Base(w.config.PythonPath) == "uv" {
		cmdArgs = append([]string{"run"}, cmdArgs...)
	}

	w.log.WithFields(logrus.Fields{
		"script": scriptName,
		"args":   args,
	}).Debug("Executing script")

	cmd := exec.CommandContext(ctx, w.config.PythonPath, cmdArgs...)
	cmd.Dir = w.config.ScriptsPath
	cmd.Env = append(os.Environ(), w.config.Environment...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		w.log.WithError(err).WithField("stderr", stderr.String()).Error("Script execution failed")
		return nil, fmt.Errorf("%v (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// buildCommandArgs keeps argument order stable so runs are reproducible.
func buildCommandArgs(scriptPath string, args map[string]string, flags []string) []string {
	cmdArgs := []string{scriptPath}
	for _, k := range []string{"audio", "model", "language"} {
		if v := args[k]; v != "" {
			cmdArgs = append(cmdArgs, fmt.Sprintf("--%s", k), v)
		}
	}
	for _, flag := range flags {
		cmdArgs = append(cmdArgs, fmt.Sprintf("--%s", flag))
	}
	return cmdArgs
}
