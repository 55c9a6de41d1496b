// labctl is the command line client for the labdabbler daemon.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/iammrherb/labdabbler/internal/version"
	"github.com/iammrherb/labdabbler/pkg/types"
)

type command struct {
	usage string
	run   func(c *apiClient, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"launch":   {"launch <topology-file-or-url> [provider]", cmdLaunch},
		"stop":     {"stop <lab-id>", cmdStop},
		"status":   {"status <lab-id>", cmdStatus},
		"list":     {"list", cmdList},
		"events":   {"events <lab-id>", cmdEvents},
		"provider": {"provider <list|add|remove|default|health> [args]", cmdProvider},
		"catalog":  {"catalog [query]", cmdCatalog},
		"scan":     {"scan", cmdScan},
		"search":   {"search <query>", cmdSearch},
		"version":  {"version", cmdVersion},
	}
}

func main() {
	var (
		serverURL = flag.String("server", envOr("LABCTL_SERVER", "http://localhost:8080"), "daemon base URL")
		token     = flag.String("token", os.Getenv("LABCTL_TOKEN"), "bearer token for authenticated daemons")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "labctl: unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	client := &apiClient{
		baseURL: *serverURL,
		token:   *token,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	if err := cmd.run(client, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "labctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: labctl [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, name := range []string{"launch", "stop", "status", "list", "events", "provider", "catalog", "scan", "search", "version"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// call performs a request and decodes the daemon's response envelope into
// out when the call succeeds.
func (c *apiClient) call(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var envelope types.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("unexpected response (status %d)", resp.StatusCode)
	}
	if !envelope.Success {
		return fmt.Errorf("%s", envelope.Error)
	}
	if out != nil && envelope.Data != nil {
		raw, err := json.Marshal(envelope.Data)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	return nil
}

func cmdLaunch(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", commands["launch"].usage)
	}
	req := map[string]string{"source": args[0]}
	if len(args) > 1 {
		req["provider"] = args[1]
	}

	var result types.LaunchResult
	if err := c.call(http.MethodPost, "/api/v1/labs", req, &result); err != nil {
		return err
	}
	fmt.Printf("launched %s (lab %s) on %s\n", result.Name, result.LabID, result.Provider)
	return nil
}

func cmdStop(c *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["stop"].usage)
	}

	var result types.StopResult
	if err := c.call(http.MethodDelete, "/api/v1/labs/"+args[0], nil, &result); err != nil {
		return err
	}
	if result.DestroyError != "" {
		fmt.Printf("stopped %s; destroy reported: %s\n", result.Name, result.DestroyError)
	} else {
		fmt.Printf("stopped %s\n", result.Name)
	}
	return nil
}

func cmdStatus(c *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["status"].usage)
	}

	var info types.LabInfo
	if err := c.call(http.MethodGet, "/api/v1/labs/"+args[0], nil, &info); err != nil {
		return err
	}
	fmt.Printf("lab:      %s (%s)\n", info.Name, info.LabID)
	fmt.Printf("provider: %s\n", info.Provider)
	fmt.Printf("status:   %s\n", info.Status)
	fmt.Printf("nodes:    %d\n", info.NodeCount)
	fmt.Printf("created:  %s\n", info.CreatedAt.Format(time.RFC3339))
	return nil
}

func cmdList(c *apiClient, args []string) error {
	var infos []types.LabInfo
	if err := c.call(http.MethodGet, "/api/v1/labs", nil, &infos); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSTATUS\tNODES\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			info.LabID, info.Name, info.Provider, info.Status, info.NodeCount,
			info.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdEvents(c *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["events"].usage)
	}

	var events []types.Event
	if err := c.call(http.MethodGet, "/api/v1/labs/"+args[0]+"/events", nil, &events); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tDETAILS")
	for _, ev := range events {
		details := ""
		for k, v := range ev.Data {
			details += fmt.Sprintf("%s=%s ", k, v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, details)
	}
	return w.Flush()
}

func cmdProvider(c *apiClient, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", commands["provider"].usage)
	}

	switch args[0] {
	case "list":
		var summaries []types.ProviderSummary
		if err := c.call(http.MethodGet, "/api/v1/providers", nil, &summaries); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tHOST\tDEFAULT")
		for _, s := range summaries {
			def := ""
			if s.IsDefault {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Type, s.Host, def)
		}
		return w.Flush()

	case "add":
		return cmdProviderAdd(c, args[1:])

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: provider remove <name>")
		}
		if err := c.call(http.MethodDelete, "/api/v1/providers/"+args[1], nil, nil); err != nil {
			return err
		}
		fmt.Printf("removed provider %s\n", args[1])
		return nil

	case "default":
		if len(args) != 2 {
			return fmt.Errorf("usage: provider default <name>")
		}
		if err := c.call(http.MethodPut, "/api/v1/providers/"+args[1]+"/default", nil, nil); err != nil {
			return err
		}
		fmt.Printf("default provider set to %s\n", args[1])
		return nil

	case "health":
		var health map[string]types.ProviderHealth
		if err := c.call(http.MethodGet, "/api/v1/providers/health", nil, &health); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tHEALTHY\tDOCKER\tCONTAINERLAB\tERROR")
		for name, h := range health {
			fmt.Fprintf(w, "%s\t%t\t%t\t%t\t%s\n",
				name, h.Healthy, h.DockerAvailable, h.ContainerlabAvailable, h.Error)
		}
		return w.Flush()

	default:
		return fmt.Errorf("usage: %s", commands["provider"].usage)
	}
}

func cmdProviderAdd(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("provider add", flag.ContinueOnError)
	var (
		name     = fs.String("name", "", "provider name")
		ptype    = fs.String("type", "ssh", "provider type: local or ssh")
		host     = fs.String("host", "", "ssh host")
		port     = fs.Int("port", 22, "ssh port")
		username = fs.String("username", "", "ssh username")
		password = fs.String("password", "", "ssh password")
		keyPath  = fs.String("key", "", "ssh private key path")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := types.ProviderConfig{
		Name:           *name,
		Type:           types.ProviderType(*ptype),
		Host:           *host,
		Port:           *port,
		Username:       *username,
		Password:       *password,
		PrivateKeyPath: *keyPath,
	}
	if err := c.call(http.MethodPost, "/api/v1/providers", &cfg, nil); err != nil {
		return err
	}
	fmt.Printf("added provider %s\n", *name)
	return nil
}

func cmdCatalog(c *apiClient, args []string) error {
	path := "/api/v1/catalog/images"
	if len(args) > 0 {
		path += "?q=" + args[0]
	}

	var images []types.CatalogImage
	if err := c.call(http.MethodGet, path, nil, &images); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tKIND\tVENDOR\tPRESENT")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", img.Name, img.Kind, img.Vendor, img.Present)
	}
	return w.Flush()
}

func cmdScan(c *apiClient, args []string) error {
	var files []types.TopologyFile
	if err := c.call(http.MethodGet, "/api/v1/topologies", nil, &files); err != nil {
		return err
	}
	return printTopologies(files)
}

func cmdSearch(c *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["search"].usage)
	}

	var files []types.TopologyFile
	if err := c.call(http.MethodGet, "/api/v1/topologies/search?q="+args[0], nil, &files); err != nil {
		return err
	}
	return printTopologies(files)
}

func printTopologies(files []types.TopologyFile) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNODES\tREPOSITORY\tPATH")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.Name, f.NodeCount, f.Repository, f.Path)
	}
	return w.Flush()
}

func cmdVersion(c *apiClient, args []string) error {
	fmt.Println(version.String())
	return nil
}
