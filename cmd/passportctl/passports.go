package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

var passportsCmd = &cobra.Command{
	Use:     "passports",
	Aliases: []string{"passport", "p"},
	Short:   "Manage service passports",
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List passports",
		Args:  cobra.NoArgs,
		RunE:  runPassportsList,
	}
	listCmd.Flags().String("status", "", "Filter by lifecycle status (draft, in_review, published, archived)")
	addPageFlags(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <passport-id>",
		Short: "Show one passport",
		Args:  cobra.ExactArgs(1),
		RunE:  runPassportsGet,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a passport (curator)",
		Args:  cobra.NoArgs,
		RunE:  runPassportsCreate,
	}
	createCmd.Flags().String("name", "", "Service name (required)")
	createCmd.Flags().String("code", "", "Service code")
	createCmd.Flags().String("description", "", "Description")
	_ = createCmd.MarkFlagRequired("name")

	updateCmd := &cobra.Command{
		Use:   "update <passport-id>",
		Short: "Update passport fields (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPassportsUpdate,
	}
	updateCmd.Flags().String("name", "", "Service name")
	updateCmd.Flags().String("code", "", "Service code")
	updateCmd.Flags().String("description", "", "Description")

	statusCmd := &cobra.Command{
		Use:   "set-status <passport-id> <status>",
		Short: "Move a passport through its lifecycle (curator)",
		Args:  cobra.ExactArgs(2),
		RunE:  runPassportsSetStatus,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <passport-id>",
		Short: "Delete a passport with its status model and versions (admin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPassportsDelete,
	}

	historyCmd := &cobra.Command{
		Use:   "history <passport-id>",
		Short: "Show the change history of a passport",
		Args:  cobra.ExactArgs(1),
		RunE:  runPassportsHistory,
	}
	addPageFlags(historyCmd)

	passportsCmd.AddCommand(listCmd, getCmd, createCmd, updateCmd, statusCmd, deleteCmd, historyCmd)
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("page-size", 0, "Maximum items per page (server default 20, max 100)")
	cmd.Flags().String("page-token", "", "Token from a previous page")
}

func pageQuery(cmd *cobra.Command, q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	if n, _ := cmd.Flags().GetInt("page-size"); n > 0 {
		q.Set("pageSize", strconv.Itoa(n))
	}
	if tok, _ := cmd.Flags().GetString("page-token"); tok != "" {
		q.Set("pageToken", tok)
	}
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

func passportPath(id int64, suffix string) string {
	return fmt.Sprintf("%s/passports/%d%s", apiBase, id, suffix)
}

func printPassports(items []passport.Passport, next string) {
	rows := make([][]string, 0, len(items))
	for _, p := range items {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			truncate(p.ServiceName, 40),
			p.ServiceCode,
			string(p.Status),
			strconv.Itoa(p.Version),
			p.UpdatedAt,
		})
	}
	printTable([]string{"ID", "Service", "Code", "Status", "Version", "Updated"}, rows)
	if next != "" {
		fmt.Fprintf(stdout, "\nNext page token: %s\n", next)
	}
}

func runPassportsList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		q.Set("status", s)
	}
	var list passport.PassportList
	if err := newClient().getJSON(withQuery(apiBase+"/passports", pageQuery(cmd, q)), &list); err != nil {
		return err
	}
	return render(list, func() { printPassports(list.Items, list.NextPageToken) })
}

func runPassportsGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var p passport.Passport
	if err := newClient().getJSON(passportPath(id, ""), &p); err != nil {
		return err
	}
	return render(p, func() { printPassports([]passport.Passport{p}, "") })
}

func runPassportsCreate(cmd *cobra.Command, args []string) error {
	req := passport.CreatePassportRequest{}
	req.ServiceName, _ = cmd.Flags().GetString("name")
	req.ServiceCode, _ = cmd.Flags().GetString("code")
	req.Description, _ = cmd.Flags().GetString("description")

	var p passport.Passport
	if err := newClient().postJSON(apiBase+"/passports", req, &p); err != nil {
		return err
	}
	return render(p, func() { printPassports([]passport.Passport{p}, "") })
}

func runPassportsUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	req := passport.UpdatePassportRequest{
		ServiceName: changedString(cmd, "name"),
		ServiceCode: changedString(cmd, "code"),
		Description: changedString(cmd, "description"),
	}
	if req.ServiceName == nil && req.ServiceCode == nil && req.Description == nil {
		return fmt.Errorf("nothing to update: set --name, --code or --description")
	}

	var p passport.Passport
	if err := newClient().patchJSON(passportPath(id, ""), req, &p); err != nil {
		return err
	}
	return render(p, func() { printPassports([]passport.Passport{p}, "") })
}

func runPassportsSetStatus(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	req := passport.ChangeStatusRequest{Status: passport.LifecycleState(args[1])}

	var p passport.Passport
	if err := newClient().postJSON(passportPath(id, "/status"), req, &p); err != nil {
		return err
	}
	return render(p, func() { printPassports([]passport.Passport{p}, "") })
}

func runPassportsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	if err := newClient().delete(passportPath(id, "")); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "passport %d deleted\n", id)
	return nil
}

func runPassportsHistory(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var list passport.AuditEventList
	if err := newClient().getJSON(withQuery(passportPath(id, "/history"), pageQuery(cmd, nil)), &list); err != nil {
		return err
	}
	return render(list, func() { printAuditEvents(list) })
}

// changedString returns the flag value only when the flag was set explicitly.
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func changedBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}
