package qbt

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Minimum Web API versions of gated endpoints.
var (
	versionBuildInfo    = Version(2, 3, 0)
	versionRenameFile   = Version(2, 4, 0)
	versionRenameFolder = Version(2, 7, 0)
	versionExport       = Version(2, 8, 14)
	versionStartStop    = Version(2, 11, 0)
)

// getJSON executes req and decodes the JSON body into out.
func (qb *Client) getJSON(ctx context.Context, req Request, out any) error {
	body, err := qb.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return newDecodeError(req.operation(), []byte(body), err)
	}
	return nil
}

func (qb *Client) post(ctx context.Context, path string, data url.Values) error {
	_, err := qb.Execute(ctx, Post(path, data))
	return err
}

func joinHashes(hashes []string) string {
	if len(hashes) == 0 {
		return "all"
	}
	return strings.Join(hashes, "|")
}

// ===== App =====

func (qb *Client) GetAppVersion(ctx context.Context) (string, error) {
	body, err := qb.Execute(ctx, Get("app/version", nil))
	if err != nil {
		return "", fmt.Errorf("failed to get app version: %w", err)
	}
	return strings.TrimSpace(body), nil
}

func (qb *Client) GetAPIVersion(ctx context.Context) (string, error) {
	body, err := qb.Execute(ctx, Get(webAPIVersionPath, nil))
	if err != nil {
		return "", fmt.Errorf("failed to get api version: %w", err)
	}
	return strings.TrimSpace(body), nil
}

func (qb *Client) GetBuildInfo(ctx context.Context) (*BuildInfo, error) {
	var info BuildInfo
	if err := qb.getJSON(ctx, Get("app/buildInfo", nil).RequireVersion(versionBuildInfo), &info); err != nil {
		return nil, fmt.Errorf("failed to get build info: %w", err)
	}
	return &info, nil
}

func (qb *Client) GetPreferences(ctx context.Context) (*Preferences, error) {
	var prefs Preferences
	if err := qb.getJSON(ctx, Get("app/preferences", nil), &prefs); err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &prefs, nil
}

// ===== Torrents =====

func (qb *Client) ListTorrents(ctx context.Context, opts ListOptions) ([]*TorrentResponse, error) {
	params := url.Values{}
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}
	if opts.Category != "" {
		params.Set("category", opts.Category)
	}
	if opts.Tag != "" {
		params.Set("tag", opts.Tag)
	}
	if opts.Sort != "" {
		params.Set("sort", opts.Sort)
	}
	if opts.Reverse {
		params.Set("reverse", "true")
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset != 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Hashes) > 0 {
		params.Set("hashes", strings.Join(opts.Hashes, "|"))
	}

	var torrents []*TorrentResponse
	if err := qb.getJSON(ctx, Get("torrents/info", params), &torrents); err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}

	for _, torrent := range torrents {
		qb.attachMagnet(torrent)
	}
	return torrents, nil
}

// attachMagnet parses the torrent's magnet URI. A malformed URI leaves
// MagnetLink nil; it never fails the listing.
func (qb *Client) attachMagnet(torrent *TorrentResponse) {
	if torrent.MagnetURI == "" {
		return
	}
	magnet, err := ParseMagnetLink(torrent.MagnetURI)
	if err != nil {
		qb.logger.Debug("unparseable magnet uri", zap.String("hash", torrent.Hash), zap.Error(err))
		return
	}
	torrent.MagnetLink = magnet
}

func (qb *Client) GetTorrent(ctx context.Context, hash string) (*TorrentResponse, error) {
	torrents, err := qb.ListTorrents(ctx, ListOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent: %w", err)
	}
	if len(torrents) == 0 {
		return nil, &ClientError{
			Code:      ErrorCodeNotFound,
			Message:   fmt.Sprintf("torrent not found with hash: %s", hash),
			Operation: "torrents/info",
			Permanent: true,
		}
	}
	return torrents[0], nil
}

func (qb *Client) GetTorrentProperties(ctx context.Context, hash string) (*TorrentProperties, error) {
	var properties TorrentProperties
	if err := qb.getJSON(ctx, Get("torrents/properties", url.Values{"hash": {hash}}), &properties); err != nil {
		return nil, fmt.Errorf("failed to get torrent properties: %w", err)
	}

	// Older servers only fill max_ratio and max_seeding_time.
	if properties.RatioLimit == 0 && properties.MaxRatio != 0 {
		properties.RatioLimit = properties.MaxRatio
	}
	if properties.SeedingTimeLimit == 0 && properties.MaxSeedingTime != 0 {
		properties.SeedingTimeLimit = properties.MaxSeedingTime
	}
	return &properties, nil
}

func (qb *Client) ListTorrentFiles(ctx context.Context, hash string) ([]*TorrentFile, error) {
	var files []*TorrentFile
	if err := qb.getJSON(ctx, Get("torrents/files", url.Values{"hash": {hash}}), &files); err != nil {
		return nil, fmt.Errorf("failed to list torrent files: %w", err)
	}
	return files, nil
}

func addParams(directory, category string, tags []string, paused, skipChecking bool) url.Values {
	data := url.Values{
		"paused":        {strconv.FormatBool(paused)},
		"stopped":       {strconv.FormatBool(paused)},
		"skip_checking": {strconv.FormatBool(skipChecking)},
	}
	if directory != "" {
		data.Set("savepath", directory)
	}
	if category != "" {
		data.Set("category", category)
	}
	if len(tags) > 0 {
		data.Set("tags", strings.Join(tags, ","))
	}
	return data
}

func (qb *Client) AddTorrentLink(ctx context.Context, opts TorrentConfig) error {
	data := addParams(opts.Directory, opts.Category, opts.Tags, opts.Paused, opts.SkipChecking)
	data.Set("urls", opts.MagnetURI)

	body, err := qb.Execute(ctx, Post("torrents/add", data))
	if err != nil {
		return fmt.Errorf("failed to add torrent: %w", err)
	}
	return checkAddResult("torrents/add", body)
}

// AddTorrentFile uploads .torrent files. Missing files are reported before
// anything is sent.
func (qb *Client) AddTorrentFile(ctx context.Context, opts TorrentFileConfig) error {
	if len(opts.Paths) == 0 {
		return NewClientError(ErrorCodeBadRequest, "no torrent files given", nil, true)
	}

	files := make([]Attachment, 0, len(opts.Paths))
	for _, path := range opts.Paths {
		files = append(files, Attachment{Field: "torrents", Path: path})
	}
	data := addParams(opts.Directory, opts.Category, opts.Tags, opts.Paused, opts.SkipChecking)

	body, err := qb.Execute(ctx, Upload("torrents/add", data, files...))
	if err != nil {
		return fmt.Errorf("failed to upload torrent: %w", err)
	}
	return checkAddResult("torrents/add", body)
}

// checkAddResult catches the 200 "Fails." answer for torrents the server refused.
func checkAddResult(operation, body string) error {
	if strings.TrimSpace(body) == "Fails." {
		return &ClientError{
			Code:      ErrorCodeAPI,
			Message:   "server refused the torrent",
			Operation: operation,
			Body:      "Fails.",
			Permanent: true,
		}
	}
	return nil
}

// StartTorrents starts torrents; all torrents when no hash is given.
func (qb *Client) StartTorrents(ctx context.Context, hashes ...string) error {
	req := Post("torrents/start", url.Values{"hashes": {joinHashes(hashes)}}).RequireVersion(versionStartStop)
	if _, err := qb.Execute(ctx, req); err != nil {
		return fmt.Errorf("failed to start torrents: %w", err)
	}
	return nil
}

// StopTorrents stops torrents; all torrents when no hash is given.
func (qb *Client) StopTorrents(ctx context.Context, hashes ...string) error {
	req := Post("torrents/stop", url.Values{"hashes": {joinHashes(hashes)}}).RequireVersion(versionStartStop)
	if _, err := qb.Execute(ctx, req); err != nil {
		return fmt.Errorf("failed to stop torrents: %w", err)
	}
	return nil
}

// PauseTorrents is the pre-5.0 spelling of StopTorrents.
func (qb *Client) PauseTorrents(ctx context.Context, hashes ...string) error {
	if err := qb.post(ctx, "torrents/pause", url.Values{"hashes": {joinHashes(hashes)}}); err != nil {
		return fmt.Errorf("failed to pause torrents: %w", err)
	}
	return nil
}

// ResumeTorrents is the pre-5.0 spelling of StartTorrents.
func (qb *Client) ResumeTorrents(ctx context.Context, hashes ...string) error {
	if err := qb.post(ctx, "torrents/resume", url.Values{"hashes": {joinHashes(hashes)}}); err != nil {
		return fmt.Errorf("failed to resume torrents: %w", err)
	}
	return nil
}

func (qb *Client) DeleteTorrents(ctx context.Context, deleteFiles bool, hashes ...string) error {
	data := url.Values{
		"hashes":      {joinHashes(hashes)},
		"deleteFiles": {strconv.FormatBool(deleteFiles)},
	}
	if err := qb.post(ctx, "torrents/delete", data); err != nil {
		return fmt.Errorf("failed to delete torrents: %w", err)
	}
	return nil
}

func (qb *Client) ForceRecheck(ctx context.Context, hashes ...string) error {
	if err := qb.post(ctx, "torrents/recheck", url.Values{"hashes": {joinHashes(hashes)}}); err != nil {
		return fmt.Errorf("failed to recheck torrents: %w", err)
	}
	return nil
}

func (qb *Client) ForceReannounce(ctx context.Context, hashes ...string) error {
	if err := qb.post(ctx, "torrents/reannounce", url.Values{"hashes": {joinHashes(hashes)}}); err != nil {
		return fmt.Errorf("failed to reannounce torrents: %w", err)
	}
	return nil
}

func (qb *Client) AddTorrentTags(ctx context.Context, hash string, tags []string) error {
	data := url.Values{"hashes": {hash}, "tags": {strings.Join(tags, ",")}}
	if err := qb.post(ctx, "torrents/addTags", data); err != nil {
		return fmt.Errorf("failed to add tags: %w", err)
	}
	return nil
}

func (qb *Client) RemoveTorrentTags(ctx context.Context, hash string, tags []string) error {
	data := url.Values{"hashes": {hash}, "tags": {strings.Join(tags, ",")}}
	if err := qb.post(ctx, "torrents/removeTags", data); err != nil {
		return fmt.Errorf("failed to remove tags: %w", err)
	}
	return nil
}

// SetCategory assigns category to the torrent; an empty category removes it.
func (qb *Client) SetCategory(ctx context.Context, hash string, category string) error {
	data := url.Values{"hashes": {hash}, "category": {category}}
	if err := qb.post(ctx, "torrents/setCategory", data); err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	return nil
}

func (qb *Client) RenameFile(ctx context.Context, hash, oldPath, newPath string) error {
	req := Post("torrents/renameFile", url.Values{
		"hash":    {hash},
		"oldPath": {oldPath},
		"newPath": {newPath},
	}).RequireVersion(versionRenameFile)
	if _, err := qb.Execute(ctx, req); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (qb *Client) RenameFolder(ctx context.Context, hash, oldPath, newPath string) error {
	req := Post("torrents/renameFolder", url.Values{
		"hash":    {hash},
		"oldPath": {oldPath},
		"newPath": {newPath},
	}).RequireVersion(versionRenameFolder)
	if _, err := qb.Execute(ctx, req); err != nil {
		return fmt.Errorf("failed to rename folder: %w", err)
	}
	return nil
}

// ExportTorrent returns the .torrent file contents.
func (qb *Client) ExportTorrent(ctx context.Context, hash string) ([]byte, error) {
	body, err := qb.Execute(ctx, Get("torrents/export", url.Values{"hash": {hash}}).RequireVersion(versionExport))
	if err != nil {
		return nil, fmt.Errorf("failed to export torrent: %w", err)
	}
	return []byte(body), nil
}

// ===== Categories =====

func (qb *Client) GetCategories(ctx context.Context) (map[string]Category, error) {
	var categories map[string]Category
	if err := qb.getJSON(ctx, Get("torrents/categories", nil), &categories); err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	return categories, nil
}

func (qb *Client) CreateCategory(ctx context.Context, name, savePath string) error {
	data := url.Values{"category": {name}, "savePath": {savePath}}
	if err := qb.post(ctx, "torrents/createCategory", data); err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (qb *Client) DeleteCategory(ctx context.Context, names ...string) error {
	data := url.Values{"categories": {strings.Join(names, "\n")}}
	if err := qb.post(ctx, "torrents/removeCategories", data); err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

// ===== Transfer and sync =====

func (qb *Client) GetTransferInfo(ctx context.Context) (*TransferInfoResponse, error) {
	var info TransferInfoResponse
	if err := qb.getJSON(ctx, Get("transfer/info", nil), &info); err != nil {
		return nil, fmt.Errorf("failed to get transfer info: %w", err)
	}
	return &info, nil
}

// GetMainData returns the sync snapshot after response id rid; 0 requests a full update.
func (qb *Client) GetMainData(ctx context.Context, rid int64) (*MainDataResponse, error) {
	var data MainDataResponse
	params := url.Values{"rid": {strconv.FormatInt(rid, 10)}}
	if err := qb.getJSON(ctx, Get("sync/maindata", params), &data); err != nil {
		return nil, fmt.Errorf("failed to get main data: %w", err)
	}
	return &data, nil
}
