package demo

import (
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// defaultStart is the ledger time a scenario starts at unless it sets one.
const defaultStart = 1000000

// Scenario describes a reproducible run: the identities taking part and the
// steps applied to a fresh ledger.
type Scenario struct {
	// Name identifies the scenario in the logs.
	Name string `yaml:"name"`

	// Start is the ledger time of the first step, in seconds.
	Start uint64 `yaml:"start"`

	// Accounts lists the identities taking part. A fresh key pair is
	// generated for each name.
	Accounts []string `yaml:"accounts"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`
}

// Step is a single instruction of a scenario.
type Step struct {
	// Comment describes the step in the output.
	Comment string `yaml:"comment"`

	// Advance moves the ledger clock forward by this number of seconds
	// instead of invoking a contract.
	Advance uint64 `yaml:"advance"`

	// Signer is the account signing the invocation.
	Signer string `yaml:"signer"`

	// Contract is the short name of the contract to invoke.
	Contract string `yaml:"contract"`

	// Command is the command to run on the contract.
	Command string `yaml:"command"`

	// Args are the arguments of the command. A key without a namespace is
	// prefixed with the contract short name.
	Args map[string]string `yaml:"args"`

	// Cosigners are the accounts co-signing the invocation.
	Cosigners []string `yaml:"cosigners"`

	// Expect is a substring of the rejection reason. When empty the step
	// must be accepted.
	Expect string `yaml:"expect"`
}

// LoadScenario reads and parses the scenario at the given path.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, xerrors.Errorf("failed to read scenario: %v", err)
	}

	return ParseScenario(data)
}

// ParseScenario parses a scenario from its YAML form and checks that every
// step is consistent with the declared accounts.
func ParseScenario(data []byte) (Scenario, error) {
	scenario := Scenario{
		Start: defaultStart,
	}

	err := yaml.UnmarshalStrict(data, &scenario)
	if err != nil {
		return Scenario{}, xerrors.Errorf("failed to unmarshal scenario: %v", err)
	}

	err = scenario.validate()
	if err != nil {
		return Scenario{}, err
	}

	return scenario, nil
}

func (s Scenario) validate() error {
	if len(s.Steps) == 0 {
		return xerrors.New("scenario has no steps")
	}

	accounts := map[string]struct{}{}
	for _, account := range s.Accounts {
		if _, ok := accounts[account]; ok {
			return xerrors.Errorf("duplicate account '%s'", account)
		}

		accounts[account] = struct{}{}
	}

	for i, step := range s.Steps {
		err := step.validate(accounts)
		if err != nil {
			return xerrors.Errorf("step %d: %v", i, err)
		}
	}

	return nil
}

func (s Step) validate(accounts map[string]struct{}) error {
	if s.Advance > 0 {
		if s.Command != "" {
			return xerrors.New("advance and command are exclusive")
		}

		return nil
	}

	if s.Signer == "" {
		return xerrors.New("missing signer")
	}

	if _, ok := accounts[s.Signer]; !ok {
		return xerrors.Errorf("unknown account '%s'", s.Signer)
	}

	if _, ok := contractNames[s.Contract]; !ok {
		return xerrors.Errorf("unknown contract '%s'", s.Contract)
	}

	if s.Command == "" {
		return xerrors.New("missing command")
	}

	for _, cosigner := range s.Cosigners {
		if _, ok := accounts[cosigner]; !ok {
			return xerrors.Errorf("unknown account '%s'", cosigner)
		}
	}

	return nil
}
