package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
)

// ConnectionAddConfig holds configuration for the connection add command
type ConnectionAddConfig struct {
	ID             string
	Title          string
	Provider       string
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	DBDescription  string
	SelectedTables []string
	Refresh        bool
}

// NewConnectionAddConfig creates a new ConnectionAddConfig with default values
func NewConnectionAddConfig() *ConnectionAddConfig {
	return &ConnectionAddConfig{
		Provider: string(sqldb.Postgres),
		Refresh:  true,
	}
}

// Record builds the connection record described by the flags
func (c *ConnectionAddConfig) Record() (*connections.Record, error) {
	provider, err := sqldb.ParseProvider(c.Provider)
	if err != nil {
		return nil, err
	}
	return &connections.Record{
		ID:             c.ID,
		Title:          c.Title,
		Provider:       provider,
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		DBName:         c.DBName,
		DBDescription:  c.DBDescription,
		SelectedTables: c.SelectedTables,
	}, nil
}

// ConnectionListConfig holds configuration for the connection list command
type ConnectionListConfig struct {
	JSONOutput bool
}

// NewConnectionListConfig creates a new ConnectionListConfig with default values
func NewConnectionListConfig() *ConnectionListConfig {
	return &ConnectionListConfig{JSONOutput: false}
}

// ConnectionExportConfig holds configuration for the connection export command
type ConnectionExportConfig struct {
	WithPasswords bool
}

// NewConnectionExportConfig creates a new ConnectionExportConfig with default values
func NewConnectionExportConfig() *ConnectionExportConfig {
	return &ConnectionExportConfig{WithPasswords: false}
}

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn"},
	Short:   "Manage database connections",
	Long:    `Add, list, inspect and delete the database connections questions are asked about.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var connectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a connection",
	Long: `Add a connection, or update it when --id names an existing one. The schema of the
selected tables is introspected straight away unless --refresh=false.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getConnectionAddConfigFromFlags(cmd)
		addConnectionCmd(ctx, config)
	},
}

var connectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getConnectionListConfigFromFlags(cmd)
		listConnectionsCmd(ctx, config)
	},
}

var connectionShowCmd = &cobra.Command{
	Use:   "show [connectionID]",
	Short: "Show a connection and its cached schema",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showConnectionCmd(cmd.Context(), args[0])
	},
}

var connectionDeleteCmd = &cobra.Command{
	Use:   "delete [connectionID]",
	Short: "Delete a connection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		deleteConnectionCmd(cmd.Context(), args[0])
	},
}

var connectionRefreshCmd = &cobra.Command{
	Use:   "refresh [connectionID]",
	Short: "Re-introspect the schema of a connection",
	Long:  `Connect to the database and replace the cached schema of the selected tables.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		refreshConnectionCmd(cmd.Context(), args[0])
	},
}

var connectionImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import connections from a YAML file",
	Long: `Import connections from a YAML file written by 'connection export'. Existing
connections with the same id are updated and keep their stored password when the
file has none.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		importConnectionsCmd(cmd.Context(), args[0])
	},
}

var connectionExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export connections to a YAML file",
	Long:  `Export every connection as YAML, to the given file or stdout. Passwords are left out unless --with-passwords is set.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getConnectionExportConfigFromFlags(cmd)
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		exportConnectionsCmd(cmd.Context(), path, config)
	},
}

func init() {
	addDefaults := NewConnectionAddConfig()
	connectionAddCmd.Flags().String("id", addDefaults.ID, "Connection id (generated when empty)")
	connectionAddCmd.Flags().String("title", addDefaults.Title, "Display title")
	connectionAddCmd.Flags().String("provider", addDefaults.Provider, "Database provider: postgres, mysql, mssql or sqlite")
	connectionAddCmd.Flags().String("host", addDefaults.Host, "Database host")
	connectionAddCmd.Flags().Int("port", addDefaults.Port, "Database port (provider default when 0)")
	connectionAddCmd.Flags().String("user", addDefaults.User, "Database user")
	connectionAddCmd.Flags().String("password", addDefaults.Password, "Database password (or SQLPILOT_DB_PASSWORD)")
	connectionAddCmd.Flags().String("db-name", addDefaults.DBName, "Database name, or file path for sqlite")
	connectionAddCmd.Flags().String("description", addDefaults.DBDescription, "What the database holds, used to steer intent classification")
	connectionAddCmd.Flags().StringSlice("tables", addDefaults.SelectedTables, "Tables questions may use; patterns like crm_* are allowed (all tables when empty)")
	connectionAddCmd.Flags().Bool("refresh", addDefaults.Refresh, "Introspect the schema after saving")

	listDefaults := NewConnectionListConfig()
	connectionListCmd.Flags().Bool("json", listDefaults.JSONOutput, "Output in JSON format")

	exportDefaults := NewConnectionExportConfig()
	connectionExportCmd.Flags().Bool("with-passwords", exportDefaults.WithPasswords, "Include passwords in the export")

	connectionCmd.AddCommand(connectionAddCmd)
	connectionCmd.AddCommand(connectionListCmd)
	connectionCmd.AddCommand(connectionShowCmd)
	connectionCmd.AddCommand(connectionDeleteCmd)
	connectionCmd.AddCommand(connectionRefreshCmd)
	connectionCmd.AddCommand(connectionImportCmd)
	connectionCmd.AddCommand(connectionExportCmd)
}

// getConnectionAddConfigFromFlags extracts add configuration from command flags
func getConnectionAddConfigFromFlags(cmd *cobra.Command) *ConnectionAddConfig {
	config := NewConnectionAddConfig()

	if id, err := cmd.Flags().GetString("id"); err == nil {
		config.ID = id
	}
	if title, err := cmd.Flags().GetString("title"); err == nil {
		config.Title = title
	}
	if provider, err := cmd.Flags().GetString("provider"); err == nil {
		config.Provider = provider
	}
	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}
	if user, err := cmd.Flags().GetString("user"); err == nil {
		config.User = user
	}
	if password, err := cmd.Flags().GetString("password"); err == nil {
		config.Password = password
	}
	if config.Password == "" {
		config.Password = os.Getenv("SQLPILOT_DB_PASSWORD")
	}
	if dbName, err := cmd.Flags().GetString("db-name"); err == nil {
		config.DBName = dbName
	}
	if description, err := cmd.Flags().GetString("description"); err == nil {
		config.DBDescription = description
	}
	if tables, err := cmd.Flags().GetStringSlice("tables"); err == nil {
		config.SelectedTables = tables
	}
	if refresh, err := cmd.Flags().GetBool("refresh"); err == nil {
		config.Refresh = refresh
	}
	if config.Title == "" {
		config.Title = config.DBName
	}

	return config
}

// getConnectionListConfigFromFlags extracts list configuration from command flags
func getConnectionListConfigFromFlags(cmd *cobra.Command) *ConnectionListConfig {
	config := NewConnectionListConfig()
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}
	return config
}

// getConnectionExportConfigFromFlags extracts export configuration from command flags
func getConnectionExportConfigFromFlags(cmd *cobra.Command) *ConnectionExportConfig {
	config := NewConnectionExportConfig()
	if withPasswords, err := cmd.Flags().GetBool("with-passwords"); err == nil {
		config.WithPasswords = withPasswords
	}
	return config
}

// ConnectionListOutput renders connection records
type ConnectionListOutput struct {
	Connections []connections.Record
	JSON        bool
}

// Render writes the records as a table or JSON
func (o *ConnectionListOutput) Render(w io.Writer) error {
	if o.JSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(o.Connections)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTitle\tProvider\tDatabase\tTables\tSchema Refreshed")
	fmt.Fprintln(tw, "--\t-----\t--------\t--------\t------\t----------------")
	for _, record := range o.Connections {
		refreshed := "never"
		if record.SchemaRefreshedAt != nil {
			refreshed = record.SchemaRefreshedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			record.ID, record.Title, record.Provider, record.DBName, record.TableCount(), refreshed)
	}
	return tw.Flush()
}

// ConnectionFile is the YAML document used by import and export
type ConnectionFile struct {
	Connections []connections.Record `yaml:"connections"`
}

// writeConnectionFile encodes records as YAML, blanking passwords unless withPasswords
func writeConnectionFile(w io.Writer, records []connections.Record, withPasswords bool) error {
	file := ConnectionFile{Connections: make([]connections.Record, len(records))}
	for i, record := range records {
		if !withPasswords {
			record.Password = ""
		}
		file.Connections[i] = record
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(file); err != nil {
		return errors.Wrap(err, "failed to encode connections")
	}
	return encoder.Close()
}

// readConnectionFile decodes and validates a YAML connection file
func readConnectionFile(r io.Reader) ([]connections.Record, error) {
	var file ConnectionFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "failed to decode connection file")
	}
	for i := range file.Connections {
		if err := file.Connections[i].Validate(); err != nil {
			return nil, errors.Wrapf(err, "connection %d (%s)", i+1, file.Connections[i].Title)
		}
	}
	return file.Connections, nil
}

// mergeImported keeps the stored password and schema of an existing record
// when the imported one carries none
func mergeImported(imported connections.Record, existing *connections.Record) connections.Record {
	if existing == nil {
		return imported
	}
	if imported.Password == "" {
		imported.Password = existing.Password
	}
	if imported.Schema == nil {
		imported.Schema = existing.Schema
		imported.SchemaRefreshedAt = existing.SchemaRefreshedAt
	}
	imported.CreatedAt = existing.CreatedAt
	return imported
}

func addConnectionCmd(ctx context.Context, config *ConnectionAddConfig) {
	record, err := config.Record()
	if err != nil {
		exitWithError(err, "invalid connection")
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	if record.ID != "" {
		if existing, err := a.connections.Get(ctx, record.ID); err == nil {
			merged := mergeImported(*record, &existing)
			record = &merged
		}
	}

	if err := a.connections.Save(ctx, record); err != nil {
		exitWithError(err, "failed to save connection")
	}
	presenter.Success(fmt.Sprintf("Saved connection %s (%s)", record.ID, record.Title))

	if config.Refresh {
		refreshSchema(ctx, a, *record)
	}
}

func listConnectionsCmd(ctx context.Context, config *ConnectionListConfig) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	records, err := a.connections.List(ctx)
	if err != nil {
		exitWithError(err, "failed to list connections")
	}
	if len(records) == 0 && !config.JSONOutput {
		presenter.Info("No connections yet. Add one with 'sqlpilot connection add'.")
		return
	}

	output := &ConnectionListOutput{Connections: records, JSON: config.JSONOutput}
	if err := output.Render(os.Stdout); err != nil {
		exitWithError(err, "failed to render connections")
	}
}

func showConnectionCmd(ctx context.Context, id string) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	record, err := a.connections.Get(ctx, id)
	if err != nil {
		exitWithError(err, "failed to load connection")
	}

	presenter.Section(record.Title)
	fmt.Printf("ID:          %s\n", record.ID)
	fmt.Printf("Provider:    %s\n", record.Provider)
	fmt.Printf("Database:    %s\n", record.Config().String())
	if record.DBDescription != "" {
		fmt.Printf("Description: %s\n", record.DBDescription)
	}
	if len(record.SelectedTables) > 0 {
		fmt.Printf("Tables:      %s\n", strings.Join(record.SelectedTables, ", "))
	}

	if len(record.Schema) == 0 {
		presenter.Warning("No cached schema. Run 'sqlpilot connection refresh " + record.ID + "'.")
		return
	}
	presenter.Section("Schema")
	fmt.Print(record.Schema.Render(record.Schema.Tables()))
}

func deleteConnectionCmd(ctx context.Context, id string) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	if err := a.connections.Delete(ctx, id); err != nil {
		exitWithError(err, "failed to delete connection")
	}
	presenter.Success(fmt.Sprintf("Deleted connection %s", id))
}

func refreshConnectionCmd(ctx context.Context, id string) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	record, err := a.connections.Get(ctx, id)
	if err != nil {
		exitWithError(err, "failed to load connection")
	}
	refreshSchema(ctx, a, record)
}

// refreshSchema introspects record's database and stores the snapshot
func refreshSchema(ctx context.Context, a *app, record connections.Record) {
	target, err := sqldb.Open(ctx, record.Config())
	if err != nil {
		exitWithError(err, "failed to connect")
	}
	defer target.Close()

	snapshot, err := connections.Refresh(ctx, a.connections, record, target)
	if err != nil {
		exitWithError(err, "failed to refresh schema")
	}
	presenter.Success(fmt.Sprintf("Cached schema for %d tables", len(snapshot)))
}

func importConnectionsCmd(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		exitWithError(err, "failed to open connection file")
	}
	defer f.Close()

	records, err := readConnectionFile(f)
	if err != nil {
		exitWithError(err, "invalid connection file")
	}

	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	for _, record := range records {
		var existing *connections.Record
		if record.ID != "" {
			if found, err := a.connections.Get(ctx, record.ID); err == nil {
				existing = &found
			}
		}
		merged := mergeImported(record, existing)
		if err := a.connections.Save(ctx, &merged); err != nil {
			exitWithError(err, fmt.Sprintf("failed to import connection %s", record.Title))
		}
	}
	presenter.Success(fmt.Sprintf("Imported %d connections", len(records)))
}

func exportConnectionsCmd(ctx context.Context, path string, config *ConnectionExportConfig) {
	a := mustOpenApp(ctx)
	defer closeApp(ctx, a)

	records, err := a.connections.List(ctx)
	if err != nil {
		exitWithError(err, "failed to list connections")
	}

	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			exitWithError(err, "failed to create export file")
		}
		defer f.Close()
		w = f
	}

	if err := writeConnectionFile(w, records, config.WithPasswords); err != nil {
		exitWithError(err, "failed to export connections")
	}
	if path != "" {
		presenter.Success(fmt.Sprintf("Exported %d connections to %s", len(records), path))
	}
}
