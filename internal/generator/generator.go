// Package generator implements the LATM (Language Agent Tool Making)
// pipeline: turning a plain-English user intent into a staged,
// validated Python skill package ready for installation.
package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saorsa-labs/fae/internal/discovery"
	"github.com/saorsa-labs/fae/internal/embedding"
	"github.com/saorsa-labs/fae/internal/ferr"
	"github.com/saorsa-labs/fae/internal/skills"
)

// Config tunes the generator pipeline.
type Config struct {
	MaxLLMTurns        int
	MaxTestRounds       int
	DiscoveryThreshold  float64
}

// DefaultConfig matches the original pipeline's defaults.
func DefaultConfig() Config {
	return Config{MaxLLMTurns: 8, MaxTestRounds: 4, DiscoveryThreshold: 0.85}
}

// Credential is the reviewer-facing view of one declared credential.
type Credential struct {
	Name        string
	EnvVar      string
	Description string
	Required    bool
}

// Proposal is a generated skill awaiting approval before installation.
type Proposal struct {
	SkillID       string
	Name          string
	Description   string
	ManifestTOML  string
	ScriptSource  string
	Credentials   []Credential
	Dependencies  []string
	StagingDir    string
}

// ExistingMatch reports that an already-installed skill is a close enough
// semantic match to the intent that no new skill should be generated.
type ExistingMatch struct {
	SkillID string
	Name    string
	Score   float64
}

// Outcome is the result of one generation attempt.
type Outcome struct {
	Proposal *Proposal
	Existing *ExistingMatch
	Failed   string
}

// Pipeline generates, stages, and validates Python skill proposals.
type Pipeline struct {
	config Config
}

// New creates a pipeline with the given configuration.
func New(config Config) *Pipeline { return &Pipeline{config: config} }

// WithDefaults creates a pipeline using DefaultConfig().
func WithDefaults() *Pipeline { return New(DefaultConfig()) }

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() Config { return p.config }

// CheckDiscovery short-circuits generation when an existing skill's
// description is already similar enough to the intent.
func (p *Pipeline) CheckDiscovery(index *discovery.Index, intentEmbedding []float32) (*ExistingMatch, error) {
	results, err := index.Search(intentEmbedding, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	top := results[0]
	if top.Score >= p.config.DiscoveryThreshold {
		return &ExistingMatch{SkillID: top.SkillID, Name: top.Name, Score: top.Score}, nil
	}
	return nil, nil
}

// Generate stages a template-based skill package for intent under
// stagingDir and validates it, returning a Proposal ready for review.
// Generation itself never consults the discovery index — callers should
// call CheckDiscovery first and only fall through to Generate on a miss.
func (p *Pipeline) Generate(intent, stagingDir string) (*Outcome, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, ferr.Pipeline("intent cannot be empty")
	}

	skillID := IntentToSkillID(intent)
	if skillID == "" {
		return nil, ferr.Pipeline("cannot derive skill id from intent: %s", intent)
	}
	name := titleCase(skillID)
	description := intent

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, ferr.Pipeline("create staging dir: %w", err)
	}
	manifestContent := templateManifest(skillID, name, description)
	if err := os.WriteFile(filepath.Join(stagingDir, "manifest.toml"), []byte(manifestContent), 0o644); err != nil {
		return nil, ferr.Pipeline("write manifest: %w", err)
	}
	scriptContent := templateScript(skillID, description)
	if err := os.WriteFile(filepath.Join(stagingDir, "skill.py"), []byte(scriptContent), 0o644); err != nil {
		return nil, ferr.Pipeline("write script: %w", err)
	}

	proposal, err := ValidateStagedSkill(stagingDir)
	if err != nil {
		return nil, err
	}
	return &Outcome{Proposal: proposal}, nil
}

// ValidateStagedSkill loads manifest.toml and the entry script from
// stagingDir, checks the script for minimal JSON-RPC handler structure,
// and builds a Proposal.
func ValidateStagedSkill(stagingDir string) (*Proposal, error) {
	manifest, err := skills.LoadManifest(stagingDir)
	if err != nil {
		return nil, err
	}

	entryPath := filepath.Join(stagingDir, manifest.EntryFile)
	scriptBytes, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, ferr.Pipeline("cannot read entry script `%s`: %w", manifest.EntryFile, err)
	}
	scriptSource := string(scriptBytes)
	if strings.TrimSpace(scriptSource) == "" {
		return nil, ferr.Pipeline("entry script is empty")
	}

	meta := ParseInlineMetadata(scriptSource)

	if !strings.Contains(scriptSource, "handshake") {
		return nil, ferr.Pipeline("entry script missing `handshake` handler")
	}
	if !strings.Contains(scriptSource, "invoke") {
		return nil, ferr.Pipeline("entry script missing `invoke` handler")
	}

	manifestTOML, err := os.ReadFile(filepath.Join(stagingDir, "manifest.toml"))
	if err != nil {
		return nil, ferr.Pipeline("read manifest.toml: %w", err)
	}

	creds := make([]Credential, 0, len(manifest.Credentials))
	for _, c := range manifest.Credentials {
		creds = append(creds, Credential{Name: c.Name, EnvVar: c.EnvVar, Description: c.Description, Required: c.Required})
	}

	return &Proposal{
		SkillID:      manifest.ID,
		Name:         manifest.Name,
		Description:  manifest.Description,
		ManifestTOML: string(manifestTOML),
		ScriptSource: scriptSource,
		Credentials:  creds,
		Dependencies: meta.Dependencies,
		StagingDir:   stagingDir,
	}, nil
}

// InstallProposal copies an approved proposal's files into
// pythonSkillsDir/<skill_id>/ and installs it via the skill registry.
func InstallProposal(proposal *Proposal, pythonSkillsDir string, registry *skills.Registry) (*skills.Record, error) {
	targetDir := filepath.Join(pythonSkillsDir, proposal.SkillID)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, ferr.Pipeline("create target dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "manifest.toml"), []byte(proposal.ManifestTOML), 0o644); err != nil {
		return nil, ferr.Pipeline("write manifest: %w", err)
	}
	manifest, err := skills.LoadManifest(targetDir)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(targetDir, manifest.EntryFile), []byte(proposal.ScriptSource), 0o644); err != nil {
		return nil, ferr.Pipeline("write script: %w", err)
	}
	return registry.InstallPythonSkill(targetDir)
}

// IndexProposal registers a newly installed proposal's embedding in the
// discovery index so future intents can find it.
func IndexProposal(index *discovery.Index, proposal *Proposal, vec []float32, now int64) error {
	if err := embedding.ValidateDim(vec); err != nil {
		return err
	}
	return index.IndexSkill(proposal.SkillID, proposal.Name, proposal.Description, discovery.SourcePython, vec, now)
}

// IntentToSkillID sanitizes a plain-English intent into a valid skill id:
// lowercase, non-alphanumeric runs collapsed to single hyphens, trimmed,
// and capped at 60 characters.
func IntentToSkillID(intent string) string {
	lowered := strings.ToLower(intent)
	var mapped strings.Builder
	for _, c := range lowered {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			mapped.WriteRune(c)
		} else {
			mapped.WriteRune('-')
		}
	}

	var collapsed strings.Builder
	prevHyphen := false
	for _, c := range mapped.String() {
		if c == '-' {
			if !prevHyphen {
				collapsed.WriteRune(c)
			}
			prevHyphen = true
		} else {
			collapsed.WriteRune(c)
			prevHyphen = false
		}
	}

	trimmed := strings.Trim(collapsed.String(), "-")
	if len(trimmed) > 60 {
		trimmed = strings.TrimRight(trimmed[:60], "-")
	}
	return trimmed
}

func titleCase(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func templateManifest(skillID, name, description string) string {
	return fmt.Sprintf("id = %q\nname = %q\nversion = \"0.1.0\"\ndescription = %q\nentry_file = \"skill.py\"\n",
		skillID, name, description)
}

func templateScript(skillID, description string) string {
	return fmt.Sprintf(`# /// script
# requires-python = ">=3.11"
# dependencies = []
# ///

"""
%s

Generated by the Fae skill generator.
"""

import json
import sys


def handle_invoke(params):
    action = params.get("action", "")
    return {"status": "ok", "action": action, "message": "Skill '%s' invoked successfully"}


def main():
    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        try:
            request = json.loads(line)
        except json.JSONDecodeError:
            continue

        method = request.get("method", "")
        req_id = request.get("id")
        params = request.get("params", {})

        if method == "skill.handshake":
            response = {
                "jsonrpc": "2.0",
                "id": req_id,
                "result": {
                    "name": "%s",
                    "version": "0.1.0",
                },
            }
        elif method == "invoke":
            try:
                result = handle_invoke(params)
                response = {"jsonrpc": "2.0", "id": req_id, "result": result}
            except Exception as e:
                response = {"jsonrpc": "2.0", "id": req_id, "error": {"code": -1, "message": str(e)}}
        elif method == "skill.health":
            response = {"jsonrpc": "2.0", "id": req_id, "result": {"status": "ok"}}
        elif method == "shutdown":
            response = {"jsonrpc": "2.0", "id": req_id, "result": {"status": "ok"}}
            print(json.dumps(response), flush=True)
            sys.exit(0)
        else:
            response = {"jsonrpc": "2.0", "id": req_id, "error": {"code": -32601, "message": "unknown method: " + method}}

        print(json.dumps(response), flush=True)


if __name__ == "__main__":
    main()
`, description, skillID, skillID)
}
