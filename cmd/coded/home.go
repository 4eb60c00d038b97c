package main

import "github.com/ehrlich-b/coded/internal/config"

// defaultCodeHomeOrEnsure resolves CODE_HOME and makes sure its directory
// layout exists, matching what every subcommand needs before touching
// sessions/ or auth.json.
func defaultCodeHomeOrEnsure() (string, error) {
	codeHome, err := config.DefaultCodeHome()
	if err != nil {
		return "", err
	}
	if err := config.EnsureCodeHome(codeHome); err != nil {
		return "", err
	}
	return codeHome, nil
}
