package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimburion/transfers/pkg/outcome"
	"github.com/nimburion/transfers/pkg/query"
	"github.com/nimburion/transfers/pkg/transfers"
)

type listFlags struct {
	query  string
	limit  int
	offset int
	facets []string
}

func (f *listFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.query, "query", "q", "", `CQL query, e.g. 'ownerId=="abc" sortBy accountName'`)
	fs.IntVarP(&f.limit, "limit", "l", 0, "page size (defaults to transfers.default_limit)")
	fs.IntVar(&f.offset, "offset", 0, "records to skip")
	fs.StringSliceVarP(&f.facets, "facet", "f", nil, `facet field, optionally "field:N" for the top N values`)
}

func (f *listFlags) params(cmd *cobra.Command) transfers.ListParams {
	p := transfers.ListParams{Query: f.query, Offset: f.offset, Facets: f.facets}
	if cmd.Flags().Changed("limit") {
		limit := f.limit
		p.Limit = &limit
	}
	return p
}

// compiledView is the printable form of a compiled list request.
type compiledView struct {
	Query   string      `json:"query"`
	Table   string      `json:"table"`
	Where   string      `json:"where,omitempty"`
	Args    []any       `json:"args,omitempty"`
	OrderBy string      `json:"order_by,omitempty"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Facets  []facetView `json:"facets,omitempty"`
}

type facetView struct {
	Path string `json:"path"`
	Top  int    `json:"top,omitempty"`
}

func newCompiledView(table string, c *query.Compiled) compiledView {
	v := compiledView{
		Query:   c.Query,
		Table:   table,
		Where:   c.Where,
		Args:    c.Args,
		OrderBy: c.OrderBy,
		Limit:   c.Limit,
		Offset:  c.Offset,
	}
	for _, f := range c.Facets {
		v.Facets = append(v.Facets, facetView{Path: f.Path, Top: f.TopN})
	}
	return v
}

func (a *app) compileCommand() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a list request to SQL without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx := requestContext(cmd.Context())
			table, err := rt.service.Table(a.tenant)
			if err != nil {
				return a.writeResult(cmd.OutOrStdout(), outcome.Map(ctx, nil, err))
			}
			compiled, err := rt.service.Compile(flags.params(cmd))
			if err != nil {
				return a.writeResult(cmd.OutOrStdout(), outcome.Map(ctx, nil, err))
			}
			return a.write(cmd.OutOrStdout(), newCompiledView(table, compiled))
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) listCommand() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transfers matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, func(rt *runtime) outcome.Result {
				return rt.service.List(requestContext(cmd.Context()), a.tenant, flags.params(cmd))
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get one transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(rt *runtime) outcome.Result {
				return rt.service.Get(requestContext(cmd.Context()), a.tenant, args[0])
			})
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	var payload payloadFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a transfer; an id is assigned when the payload has none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withService(cmd, func(rt *runtime) outcome.Result {
				return rt.service.Create(requestContext(cmd.Context()), a.tenant, data)
			})
		},
	}
	payload.register(cmd)
	return cmd
}

func (a *app) updateCommand() *cobra.Command {
	var payload payloadFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the transfer with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withService(cmd, func(rt *runtime) outcome.Result {
				return rt.service.Update(requestContext(cmd.Context()), a.tenant, args[0], data)
			})
		},
	}
	payload.register(cmd)
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete the transfer with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(rt *runtime) outcome.Result {
				return rt.service.Delete(requestContext(cmd.Context()), a.tenant, args[0])
			})
		},
	}
}

// withService connects, runs fn and prints its result. Failed results are
// logged with their cause, which the printed result never carries.
func (a *app) withService(cmd *cobra.Command, fn func(rt *runtime) outcome.Result) error {
	rt, err := a.connect(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd, rt)

	res := fn(rt)
	if !res.Success() {
		log := rt.log.With("request_id", res.RequestID, "kind", res.Kind, "code", res.Code)
		if res.HTTPStatus() >= 500 {
			log.Error("transfers operation failed", "error", res.Cause)
		} else {
			log.Debug("transfers operation rejected", "error", res.Cause)
		}
	}
	return a.writeResult(cmd.OutOrStdout(), res)
}

type payloadFlags struct {
	data string
	file string
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.data, "data", "d", "", "transfer document as JSON")
	cmd.Flags().StringVar(&p.file, "file", "", `file holding the JSON document, "-" for stdin`)
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	cmd.MarkFlagsOneRequired("data", "file")
}

// read decodes the payload keeping numbers exact.
func (p *payloadFlags) read(stdin io.Reader) (map[string]any, error) {
	var r io.Reader
	switch {
	case p.data != "":
		r = strings.NewReader(p.data)
	case p.file == "-":
		r = stdin
	default:
		f, err := os.Open(p.file)
		if err != nil {
			return nil, fmt.Errorf("open payload: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("payload must hold a single JSON object")
	}
	return data, nil
}
