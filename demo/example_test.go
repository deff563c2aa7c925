package demo

func ExampleRunner_Run() {
	scenario, err := ParseScenario([]byte(`
name: role gating
accounts: [owner, alice]
steps:
  - signer: owner
    contract: auth
    command: INIT
  - signer: alice
    contract: auth
    command: ADMIN
    expect: insufficient role
`))
	if err != nil {
		panic("failed to parse the scenario: " + err.Error())
	}

	runner, err := NewRunner(scenario)
	if err != nil {
		panic("failed to build the runner: " + err.Error())
	}

	err = runner.Run()
	if err != nil {
		panic("failed to run: " + err.Error())
	}

	// Output: [0] auth:INIT accepted
	// [1] auth:ADMIN rejected: failed to ADMIN: insufficient role: have none, need admin
	// scenario 'role gating' completed: 2 steps
}
