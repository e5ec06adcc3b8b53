package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
)

const usage = `usage: shuttle -master <host:port> <command> [args]

commands:
  submit <job.json>                              submit a job described by a JSON file
  list [-all]                                    list jobs
  show [-all] <jobid>                            show one job with task progress
  kill <jobid>                                   kill a job
  update [-priority n] [-map-capacity n] [-reduce-capacity n] <jobid>
`

func main() {
	master := flag.String("master", "localhost:7828", "master endpoint")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{base: "http://" + *master}
	var err error
	switch cmd := flag.Arg(0); cmd {
	case "submit":
		err = c.submit(flag.Args()[1:])
	case "list":
		err = c.list(flag.Args()[1:])
	case "show":
		err = c.show(flag.Args()[1:])
	case "kill":
		err = c.kill(flag.Args()[1:])
	case "update":
		err = c.update(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shuttle: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
}

func (c *client) submit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("submit takes exactly one job file")
	}
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var resp struct {
		Status string `json:"status"`
		JobID  string `json:"jobid"`
	}
	if err := c.do(http.MethodPost, "/api/jobs", payload, &resp); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", resp.JobID, resp.Status)
	return nil
}

func (c *client) list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "include finished jobs")
	fs.Parse(args)

	var resp struct {
		Jobs []struct {
			JobID string `json:"jobid"`
			State string `json:"state"`
			Desc  struct {
				Name string `json:"name"`
			} `json:"desc"`
			MapStat    phaseStat `json:"map_stat"`
			ReduceStat phaseStat `json:"reduce_stat"`
		} `json:"jobs"`
	}
	path := "/api/jobs?all=" + strconv.FormatBool(*all)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOBID\tNAME\tSTATE\tMAP\tREDUCE")
	for _, job := range resp.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			job.JobID, job.Desc.Name, job.State,
			job.MapStat.String(), job.ReduceStat.String())
	}
	return w.Flush()
}

func (c *client) show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	all := fs.Bool("all", false, "search finished jobs too")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("show takes exactly one jobid")
	}

	var resp json.RawMessage
	path := "/api/jobs/" + url.PathEscape(fs.Arg(0)) + "?all=" + strconv.FormatBool(*all)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

func (c *client) kill(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("kill takes exactly one jobid")
	}
	var resp struct {
		Status string `json:"status"`
	}
	path := "/api/jobs/" + url.PathEscape(args[0])
	if err := c.do(http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Status)
	return nil
}

func (c *client) update(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	priority := fs.Int("priority", -1, "new priority (0-3)")
	mapCapacity := fs.Int("map-capacity", -1, "new map capacity")
	reduceCapacity := fs.Int("reduce-capacity", -1, "new reduce capacity")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("update takes exactly one jobid")
	}

	req := make(map[string]int)
	if *priority >= 0 {
		req["priority"] = *priority
	}
	if *mapCapacity >= 0 {
		req["map_capacity"] = *mapCapacity
	}
	if *reduceCapacity >= 0 {
		req["reduce_capacity"] = *reduceCapacity
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	var resp struct {
		Status string `json:"status"`
	}
	path := "/api/jobs/" + url.PathEscape(fs.Arg(0))
	if err := c.do(http.MethodPut, path, payload, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Status)
	return nil
}

func (c *client) do(method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type phaseStat struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s phaseStat) String() string {
	return fmt.Sprintf("%d/%d", s.Completed, s.Total)
}
