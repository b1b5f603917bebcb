// Command token mints credentials for the OpenLockIn API.
//
//	token -role operator -subject alice        # JWT access token
//	token -machine -name daq-script -role operator
//
// Machine tokens print the token once, plus the config entry holding its
// hash.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type machineTokenEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
	Role string `yaml:"role"`
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file")
	role := pflag.String("role", "operator", "operator, technician or admin")
	subject := pflag.String("subject", "cli", "subject of a JWT access token")
	machine := pflag.Bool("machine", false, "create a long-lived machine token instead of a JWT")
	name := pflag.String("name", "", "name of the machine token")
	pflag.Parse()

	if !auth.ValidRole(*role) {
		log.Fatalf("Unknown role %q", *role)
	}

	if *machine {
		if *name == "" {
			log.Fatal("-name is required for machine tokens")
		}
		if err := printMachineToken(*name, *role); err != nil {
			log.Fatalf("Failed to create machine token: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Auth.IsProductionReady() {
		fmt.Fprintln(os.Stderr, "warning: signing with the development secret")
	}

	svc, err := auth.NewAuthService(cfg.Auth, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to set up authentication: %v", err)
	}

	token, err := svc.IssueToken(*subject, *role)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}

func printMachineToken(name, role string) error {
	token, id, err := auth.GenerateMachineToken()
	if err != nil {
		return err
	}

	hash, err := auth.NewSecretHasher().Hash(token)
	if err != nil {
		return err
	}

	entry, err := yaml.Marshal([]machineTokenEntry{{
		ID:   id.String(),
		Name: name,
		Hash: hash,
		Role: role,
	}})
	if err != nil {
		return err
	}

	fmt.Printf("Token (shown once):\n  %s\n\nAdd to auth.machine_tokens:\n%s", token, entry)
	return nil
}
