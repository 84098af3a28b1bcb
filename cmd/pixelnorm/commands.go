package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/sniff"
	"github.com/dunamismax/pixelnorm/internal/watch"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type settingsFlags struct {
	maxDimension  int
	sizeThreshold string
	colorSpace    string
	format        string
	quality       float64
}

func (f *settingsFlags) register(flags *pflag.FlagSet) {
	flags.IntVar(&f.maxDimension, "max-dimension", 0, "cap for the longer side in pixels (default from config)")
	flags.StringVar(&f.sizeThreshold, "size-threshold", "", "SVG inputs up to this size skip resizing, e.g. 1MB (default from config)")
	flags.StringVar(&f.colorSpace, "color-space", "", "srgb or display-p3 (default from config)")
	flags.StringVar(&f.format, "format", "", "output MIME type or extension (default from the output name, then the input type)")
	flags.Float64Var(&f.quality, "quality", -1, "lossy encode quality in [0,1]; negative leaves it to the codec")
}

func (f *settingsFlags) settings(defaults domain.NormalizeSettings) (domain.NormalizeSettings, error) {
	s := domain.NormalizeSettings{
		MaxDimension:  f.maxDimension,
		SizeThreshold: f.sizeThreshold,
		ColorSpace:    f.colorSpace,
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s.WithDefaults(defaults), nil
}

func (f *settingsFlags) encodeQuality() *float64 {
	if f.quality < 0 {
		return nil
	}
	return pipeline.Quality(f.quality)
}

// mimeFor accepts "image/png", "png" or ".png".
func mimeFor(format string) string {
	format = strings.TrimSpace(format)
	if format == "" || strings.Contains(format, "/") {
		return format
	}
	if !strings.HasPrefix(format, ".") {
		format = "." + format
	}
	if t := mime.TypeByExtension(strings.ToLower(format)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	return ""
}

func newNormalizeCommand(a *app) *cobra.Command {
	var (
		flags settingsFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "normalize <in> -o <out>",
		Short: "Decode an image, cap its longer side and write it back out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.settings(a.cfg.Normalize.Defaults())
			if err != nil {
				return err
			}
			cs, err := pipeline.ParseColorSpace(settings.ColorSpace)
			if err != nil {
				return err
			}

			format := mimeFor(flags.format)
			if format == "" {
				format = mimeFor(filepath.Ext(out))
			}

			ctx := cmd.Context()
			file, res, err := a.stages.Normalizer.NormalizeSource(ctx, pipeline.FileSource{Path: args[0]}, settings.MaxDimension, settings.SizeThreshold)
			if err != nil {
				return err
			}
			rendered, err := a.stages.Render(ctx, file, res, pipeline.EncodeSpec{
				MIMEType:   format,
				Quality:    flags.encodeQuality(),
				ColorSpace: cs,
			})
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, rendered.Data, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			width, height := res.Bitmap.LogicalSize()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d %s %s -> %s%s\n",
				out, width, height, rendered.MIMEType,
				humanize.Bytes(uint64(file.Size())), humanize.Bytes(uint64(len(rendered.Data))),
				summarize(res, rendered))
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func summarize(res pipeline.Result, rendered pipeline.Rendered) string {
	switch {
	case rendered.Passthrough:
		return " (passthrough)"
	case res.Exempt:
		return " (exempt)"
	case res.Resized:
		return " (resized)"
	default:
		return ""
	}
}

func newSniffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sniff <file...>",
		Short: "Report the image format of each file from its leading bytes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				format, size, err := sniffFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", path, format, format.MIMEType(), humanize.Bytes(uint64(size)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be read", failed, len(args))
			}
			return nil
		},
	}
}

func sniffFile(path string) (sniff.Format, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return sniff.Unknown, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return sniff.Unknown, 0, err
	}

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return sniff.Unknown, 0, err
	}
	return sniff.Classify(head[:n]), info.Size(), nil
}

func newWatchCommand(a *app) *cobra.Command {
	var flags settingsFlags
	cmd := &cobra.Command{
		Use:   "watch <in-dir> <out-dir>",
		Short: "Normalize every image written to a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.settings(a.cfg.Normalize.Defaults())
			if err != nil {
				return err
			}
			processor, err := pipeline.NewLocalProcessor(args[1], a.stages)
			if err != nil {
				return err
			}

			outputs := []domain.OutputSpec{{
				ID:      domain.DefaultOutputID,
				Format:  mimeFor(flags.format),
				Quality: flags.encodeQuality(),
			}}

			w, err := watch.New(watch.Config{Dir: args[0], Logger: a.logger}, func(ctx context.Context, path string) error {
				res, err := processor.Process(ctx, pipeline.Request{
					JobID:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
					SourceType: domain.SourceTypeLocalFile,
					ObjectKey:  path,
					Settings:   settings,
					Outputs:    outputs,
				})
				if err != nil {
					return err
				}
				for _, o := range res.Outputs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%dx%d, %s)\n", path, o.Path, o.Width, o.Height, humanize.Bytes(uint64(o.Bytes)))
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s, writing to %s\n", args[0], args[1])
			return w.Run(cmd.Context())
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
