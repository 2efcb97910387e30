package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"golang.org/x/crypto/bcrypt"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate and load assessment definitions",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <file.json>...",
	Short: "Check definition documents against the catalog schema",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			defs, err := readDefinitions(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			for _, d := range defs {
				fmt.Printf("%s: %s ok (%d questions, %.2f marks)\n", path, d.ID, len(d.Questions), d.TotalMarks())
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) invalid", failed)
		}
		return nil
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.json>...",
	Short: "Store definitions in the catalog and refresh their cache entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		var defs []*model.AssessmentDefinition
		for _, path := range args {
			parsed, err := readDefinitions(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			defs = append(defs, parsed...)
		}

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, d := range defs {
			if err := e.Source().Upsert(ctx, d); err != nil {
				return fmt.Errorf("upsert %s: %w", d.ID, err)
			}
			if _, err := e.Catalog.Refresh(ctx, d.ID); err != nil {
				e.log.Warn().Err(err).Str("assessment_id", d.ID).Msg("Cache refresh failed")
			}
			fmt.Printf("imported %s\n", d.ID)
		}
		return nil
	},
}

var catalogHashCodeCmd = &cobra.Command{
	Use:   "hash-code",
	Short: "Hash an entry code for an exam definition's entry_code_hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readSecret("Entry code: ")
		if err != nil {
			return err
		}
		if len(code) < 4 {
			return fmt.Errorf("entry code must be at least 4 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash entry code: %w", err)
		}
		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogHashCodeCmd)
}

// readDefinitions accepts a single definition or a JSON array of them.
func readDefinitions(path string) ([]*model.AssessmentDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		docs = []json.RawMessage{raw}
	}

	defs := make([]*model.AssessmentDefinition, 0, len(docs))
	for i, doc := range docs {
		d, err := catalog.Parse(doc)
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", i, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}
