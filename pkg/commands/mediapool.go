package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/fields"
	"github.com/harun/resolvemcp/pkg/resolve"
)

// MediaPoolInfoQuery reads the media pool root bin.
var MediaPoolInfoQuery = fields.NewQuery[resolve.MediaPool]("media_pool").
	Field("root_folder", func(ctx context.Context, mp *resolve.MediaPool, _ fields.Values) (any, error) {
		root, err := rootFolder(ctx, mp)
		if err != nil {
			return nil, err
		}
		return root.Name(ctx)
	}).
	Field("current_folder", func(ctx context.Context, mp *resolve.MediaPool, _ fields.Values) (any, error) {
		f, err := mp.CurrentFolder(ctx)
		if err != nil || f == nil {
			return nil, err
		}
		return f.Name(ctx)
	}).
	Field("clips", func(ctx context.Context, mp *resolve.MediaPool, _ fields.Values) (any, error) {
		root, err := rootFolder(ctx, mp)
		if err != nil {
			return nil, err
		}
		items, err := root.Clips(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(items))
		for _, it := range items {
			name, err := it.Name(ctx)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return names, nil
	}).
	Field("clip_count", func(_ context.Context, _ *resolve.MediaPool, got fields.Values) (any, error) {
		if !got.Has("clips") {
			return nil, fmt.Errorf("clip list unavailable")
		}
		return len(got["clips"].([]string)), nil
	}).
	Field("subfolders", func(ctx context.Context, mp *resolve.MediaPool, _ fields.Values) (any, error) {
		root, err := rootFolder(ctx, mp)
		if err != nil {
			return nil, err
		}
		subs, err := root.Subfolders(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(subs))
		for _, sub := range subs {
			name, err := sub.Name(ctx)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return names, nil
	})

func rootFolder(ctx context.Context, mp *resolve.MediaPool) (*resolve.Folder, error) {
	root, err := mp.RootFolder(ctx)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("no root folder")
	}
	return root, nil
}

func getMediaPoolInfoCommand() dispatch.Command {
	return dispatch.Command{
		Name:        GetMediaPoolInfo,
		Description: "Get the clips and bins in the media pool root folder.",
		Handler: func(ctx context.Context, env *dispatch.Env, _ map[string]any) (any, error) {
			mp, err := mediaPool(ctx, env.Project)
			if err != nil {
				return nil, err
			}
			res := MediaPoolInfoQuery.Run(ctx, mp)
			return map[string]any(res.Values), nil
		},
	}
}

// ImportMediaOptions configures import_media.
type ImportMediaOptions struct {
	FilePath   string `json:"file_path"`
	FolderName string `json:"folder_name"`
}

func importMediaCommand() dispatch.Command {
	return dispatch.Command{
		Name:        ImportMedia,
		Description: "Import a media file into the media pool, optionally into a named bin under the root folder.",
		Parameters: []dispatch.Parameter{
			{Name: "file_path", Type: "string", Description: "Path of the file on the Resolve host", Required: true},
			{Name: "folder_name", Type: "string", Description: "Bin under the root folder to import into"},
		},
		Handler: importMedia,
	}
}

func importMedia(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
	var opts ImportMediaOptions
	if err := decode(params, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.FilePath) == "" {
		return nil, dispatch.InvalidParams("file_path is required")
	}

	mp, err := mediaPool(ctx, env.Project)
	if err != nil {
		return nil, err
	}

	folder := ""
	if opts.FolderName != "" {
		target, err := findSubfolder(ctx, mp, opts.FolderName)
		if err != nil {
			return nil, err
		}
		previous, err := mp.CurrentFolder(ctx)
		if err != nil {
			return nil, dispatch.Unknown(err, "Failed to read current folder: %s", err)
		}
		if ok, err := mp.SetCurrentFolder(ctx, target); err != nil || !ok {
			return nil, dispatch.Unknown(err, "Failed to switch to folder: %s", opts.FolderName)
		}
		if previous != nil {
			defer func() {
				if ok, err := mp.SetCurrentFolder(ctx, previous); err != nil || !ok {
					log.Warn().Err(err).Msg("Could not restore media pool folder")
				}
			}()
		}
		folder = opts.FolderName
	}

	items, err := mp.ImportMedia(ctx, []string{opts.FilePath})
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to import media: %s", opts.FilePath)
	}
	if len(items) == 0 {
		return nil, dispatch.Unknown(nil, "Failed to import media: %s", opts.FilePath)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	names := make([]string, 0, len(items))
	for _, it := range items {
		name, err := it.Name(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("Could not read imported clip name")
			continue
		}
		names = append(names, name)
	}
	if folder == "" {
		folder = currentFolderName(ctx, mp, logger)
	}

	return map[string]any{
		"message": fmt.Sprintf("Imported %d clip(s) from %s", len(items), opts.FilePath),
		"clips":   names,
		"folder":  folder,
	}, nil
}

// currentFolderName is best effort; an unreadable folder reports "".
func currentFolderName(ctx context.Context, mp *resolve.MediaPool, logger zerolog.Logger) string {
	cur, err := mp.CurrentFolder(ctx)
	if err != nil || cur == nil {
		logger.Debug().Err(err).Msg("Could not read current media pool folder")
		return ""
	}
	name, err := cur.Name(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("Could not read current media pool folder name")
		return ""
	}
	return name
}

func findSubfolder(ctx context.Context, mp *resolve.MediaPool, name string) (*resolve.Folder, error) {
	root, err := rootFolder(ctx, mp)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to access root folder: %s", err)
	}
	subs, err := root.Subfolders(ctx)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to list folders: %s", err)
	}
	for _, sub := range subs {
		subName, err := sub.Name(ctx)
		if err != nil {
			continue
		}
		if subName == name {
			return sub, nil
		}
	}
	return nil, dispatch.NotFound("Folder not found: %s", name)
}
