package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

var statusesCmd = &cobra.Command{
	Use:     "statuses",
	Aliases: []string{"status"},
	Short:   "Manage the status model of a passport",
}

var transitionsCmd = &cobra.Command{
	Use:     "transitions",
	Aliases: []string{"transition"},
	Short:   "Manage transitions between statuses",
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <passport-id>",
	Short: "Check a passport's status model for structural problems",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnostics,
}

type statusList struct {
	Items []passport.StatusDefinition `json:"items"`
}

type transitionList struct {
	Items []passport.StatusTransition `json:"items"`
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list <passport-id>",
		Short: "List status definitions in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusesList,
	}

	defineCmd := &cobra.Command{
		Use:   "define <passport-id>",
		Short: "Define a status (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusesDefine,
	}
	defineCmd.Flags().String("code", "", "Status code, unique per passport (required)")
	defineCmd.Flags().String("name", "", "Display name (required)")
	defineCmd.Flags().String("description", "", "Description")
	defineCmd.Flags().Bool("initial", false, "Mark as an initial status")
	defineCmd.Flags().Bool("final", false, "Mark as a final status")
	_ = defineCmd.MarkFlagRequired("code")
	_ = defineCmd.MarkFlagRequired("name")

	updateCmd := &cobra.Command{
		Use:   "update <status-id>",
		Short: "Update a status definition (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusesUpdate,
	}
	updateCmd.Flags().String("code", "", "Status code")
	updateCmd.Flags().String("name", "", "Display name")
	updateCmd.Flags().String("description", "", "Description")
	updateCmd.Flags().Bool("initial", false, "Initial status flag")
	updateCmd.Flags().Bool("final", false, "Final status flag")

	deleteCmd := &cobra.Command{
		Use:   "delete <status-id>",
		Short: "Delete a status that no transition references (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusesDelete,
	}

	statusesCmd.AddCommand(listCmd, defineCmd, updateCmd, deleteCmd)

	tListCmd := &cobra.Command{
		Use:   "list <passport-id>",
		Short: "List transitions in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransitionsList,
	}

	tDefineCmd := &cobra.Command{
		Use:   "define <passport-id>",
		Short: "Define a transition (curator); omit --from for a wildcard",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransitionsDefine,
	}
	tDefineCmd.Flags().Int64("from", 0, "Source status ID (omit for any status)")
	tDefineCmd.Flags().Int64("to", 0, "Target status ID (required)")
	tDefineCmd.Flags().String("condition", "", "Guard condition")
	tDefineCmd.Flags().Bool("automatic", false, "Fire automatically when the condition holds")
	_ = tDefineCmd.MarkFlagRequired("to")

	tDeleteCmd := &cobra.Command{
		Use:   "delete <transition-id>",
		Short: "Delete a transition (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransitionsDelete,
	}

	transitionsCmd.AddCommand(tListCmd, tDefineCmd, tDeleteCmd)
}

func printStatuses(items []passport.StatusDefinition) {
	rows := make([][]string, 0, len(items))
	for _, s := range items {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Code,
			truncate(s.Name, 40),
			yesNo(s.IsInitial),
			yesNo(s.IsFinal),
		})
	}
	printTable([]string{"ID", "Code", "Name", "Initial", "Final"}, rows)
}

func printTransitions(items []passport.StatusTransition) {
	rows := make([][]string, 0, len(items))
	for _, t := range items {
		from := "*"
		if t.FromStatusID != nil {
			from = strconv.FormatInt(*t.FromStatusID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			from,
			strconv.FormatInt(t.ToStatusID, 10),
			truncate(t.Condition, 40),
			yesNo(t.IsAutomatic),
		})
	}
	printTable([]string{"ID", "From", "To", "Condition", "Automatic"}, rows)
}

func runStatusesList(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var list statusList
	if err := newClient().getJSON(passportPath(id, "/statuses"), &list); err != nil {
		return err
	}
	return render(list, func() { printStatuses(list.Items) })
}

func runStatusesDefine(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	req := passport.DefineStatusRequest{}
	req.Code, _ = cmd.Flags().GetString("code")
	req.Name, _ = cmd.Flags().GetString("name")
	req.Description, _ = cmd.Flags().GetString("description")
	req.IsInitial, _ = cmd.Flags().GetBool("initial")
	req.IsFinal, _ = cmd.Flags().GetBool("final")

	var s passport.StatusDefinition
	if err := newClient().postJSON(passportPath(id, "/statuses"), req, &s); err != nil {
		return err
	}
	return render(s, func() { printStatuses([]passport.StatusDefinition{s}) })
}

func runStatusesUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "status ID")
	if err != nil {
		return err
	}
	req := passport.UpdateStatusRequest{
		Code:        changedString(cmd, "code"),
		Name:        changedString(cmd, "name"),
		Description: changedString(cmd, "description"),
		IsInitial:   changedBool(cmd, "initial"),
		IsFinal:     changedBool(cmd, "final"),
	}

	var s passport.StatusDefinition
	if err := newClient().patchJSON(fmt.Sprintf("%s/statuses/%d", apiBase, id), req, &s); err != nil {
		return err
	}
	return render(s, func() { printStatuses([]passport.StatusDefinition{s}) })
}

func runStatusesDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "status ID")
	if err != nil {
		return err
	}
	if err := newClient().delete(fmt.Sprintf("%s/statuses/%d", apiBase, id)); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "status %d deleted\n", id)
	return nil
}

func runTransitionsList(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var list transitionList
	if err := newClient().getJSON(passportPath(id, "/transitions"), &list); err != nil {
		return err
	}
	return render(list, func() { printTransitions(list.Items) })
}

func runTransitionsDefine(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	req := passport.DefineTransitionRequest{}
	req.ToStatusID, _ = cmd.Flags().GetInt64("to")
	req.Condition, _ = cmd.Flags().GetString("condition")
	req.IsAutomatic, _ = cmd.Flags().GetBool("automatic")
	if cmd.Flags().Changed("from") {
		from, _ := cmd.Flags().GetInt64("from")
		req.FromStatusID = &from
	}

	var t passport.StatusTransition
	if err := newClient().postJSON(passportPath(id, "/transitions"), req, &t); err != nil {
		return err
	}
	return render(t, func() { printTransitions([]passport.StatusTransition{t}) })
}

func runTransitionsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "transition ID")
	if err != nil {
		return err
	}
	if err := newClient().delete(fmt.Sprintf("%s/transitions/%d", apiBase, id)); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "transition %d deleted\n", id)
	return nil
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var d passport.Diagnostics
	if err := newClient().getJSON(passportPath(id, "/status-model/diagnostics"), &d); err != nil {
		return err
	}
	return render(d, func() {
		fmt.Fprintf(stdout, "Passport %d: %d statuses, %d transitions\n\n", d.PassportID, d.StatusCount, d.TransitionCount)
		if len(d.Findings) == 0 {
			fmt.Fprintln(stdout, "No findings.")
			return
		}
		rows := make([][]string, 0, len(d.Findings))
		for _, f := range d.Findings {
			rows = append(rows, []string{f.Severity, f.Code, truncate(f.Message, 70), joinIDs(f.StatusIDs)})
		}
		printTable([]string{"Severity", "Code", "Message", "Statuses"}, rows)
		if d.HasWarnings() {
			fmt.Fprintln(stdout, "\nThe status model has warnings.")
		}
	})
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
