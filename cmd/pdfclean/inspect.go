package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wudi/scanclean/contentstream"
	"github.com/wudi/scanclean/ir"
	"github.com/wudi/scanclean/observability"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <input.pdf>",
		Short: "Print page geometry and what each page paints",
		Args:  inputArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			defer file.Close()

			ctx := cmd.Context()
			logger := observability.FromContext(ctx)
			doc, err := ir.New(ir.Config{Logger: logger}).Parse(ctx, file)
			if err != nil {
				return err
			}
			tracer := contentstream.NewTracer(contentstream.TracerConfig{Logger: logger})

			fmt.Fprintf(a.stdout, "PDF %s, %d pages, %d objects\n", doc.Raw.Version, len(doc.Pages), len(doc.Raw.Objects))
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PAGE\tBOX\tROTATE\tIMAGES\tRECTS\tNOTE")
			for _, page := range doc.Pages {
				box := page.Box()
				placements, err := tracer.TracePage(ctx, doc, page)
				note := ""
				if err != nil {
					note = err.Error()
				}
				var images, rects int
				for _, p := range placements {
					if p.Kind == contentstream.PlaceRect {
						rects++
					} else {
						images++
					}
				}
				fmt.Fprintf(tw, "%d\t%gx%g\t%d\t%d\t%d\t%s\n", page.Index+1, box.Width(), box.Height(), page.Rotate, images, rects, note)
			}
			return tw.Flush()
		},
	}
}
