package qbt

// ListOptions filters listing endpoints.
type ListOptions struct {
	Filter   string
	Category string
	Tag      string
	Sort     string
	Reverse  bool
	Limit    int
	Offset   int
	Hashes   []string
}

// TorrentConfig configures adding a torrent by URL or magnet link.
type TorrentConfig struct {
	MagnetURI    string
	Directory    string
	Category     string
	Tags         []string
	Paused       bool
	SkipChecking bool
}

// TorrentFileConfig configures uploading .torrent files from disk.
type TorrentFileConfig struct {
	Paths        []string
	Directory    string
	Category     string
	Tags         []string
	Paused       bool
	SkipChecking bool
}

// MagnetLink holds the parsed parts of a magnet URI.
type MagnetLink struct {
	Hash             string
	HashType         string
	DisplayName      string
	Trackers         []string
	ExactLength      string
	ExactSource      string
	Keywords         string
	AcceptableSource string
}

// TorrentResponse is a subset of torrent info returned by qBittorrent.
type TorrentResponse struct {
	AddedOn       int64   `json:"added_on"`
	Category      string  `json:"category"`
	CompletionOn  int64   `json:"completion_on"`
	Dlspeed       int64   `json:"dlspeed"`
	Downloaded    int64   `json:"downloaded"`
	Eta           int64   `json:"eta"`
	ForceStart    bool    `json:"force_start"`
	Hash          string  `json:"hash"`
	InfoHashV1    string  `json:"infohash_v1"`
	InfoHashV2    string  `json:"infohash_v2"`
	MagnetURI     string  `json:"magnet_uri"`
	Name          string  `json:"name"`
	NumComplete   int     `json:"num_complete"`
	NumIncomplete int     `json:"num_incomplete"`
	NumLeechs     int     `json:"num_leechs"`
	NumSeeds      int     `json:"num_seeds"`
	Priority      int     `json:"priority"`
	Progress      float64 `json:"progress"`
	Ratio         float64 `json:"ratio"`
	SavePath      string  `json:"save_path"`
	SeqDl         bool    `json:"seq_dl"`
	Size          int64   `json:"size"`
	State         string  `json:"state"`
	SuperSeeding  bool    `json:"super_seeding"`
	Upspeed       int64   `json:"upspeed"`
	Uploaded      int64   `json:"uploaded"`
	Tags          string  `json:"tags"`

	// MagnetLink is parsed from MagnetURI; nil when the server sent none.
	MagnetLink *MagnetLink `json:"-"`
}

// TorrentFile is one entry of torrents/files.
type TorrentFile struct {
	Index        int     `json:"index"`
	Name         string  `json:"name"`
	Size         int64   `json:"size"`
	Progress     float64 `json:"progress"`
	Priority     int     `json:"priority"`
	IsSeed       bool    `json:"is_seed"`
	PieceRange   []int   `json:"piece_range"`
	Availability float64 `json:"availability"`
}

// TorrentProperties is the generic properties of a torrent.
type TorrentProperties struct {
	SavePath         string  `json:"save_path"`
	CreationDate     int64   `json:"creation_date"`
	PieceSize        int64   `json:"piece_size"`
	Comment          string  `json:"comment"`
	TotalWasted      int64   `json:"total_wasted"`
	TotalUploaded    int64   `json:"total_uploaded"`
	TotalDownloaded  int64   `json:"total_downloaded"`
	UpLimit          int64   `json:"up_limit"`
	DlLimit          int64   `json:"dl_limit"`
	TimeElapsed      int64   `json:"time_elapsed"`
	SeedingTime      int64   `json:"seeding_time"`
	NbConnections    int     `json:"nb_connections"`
	ShareRatio       float64 `json:"share_ratio"`
	AdditionDate     int64   `json:"addition_date"`
	CompletionDate   int64   `json:"completion_date"`
	CreatedBy        string  `json:"created_by"`
	TotalSize        int64   `json:"total_size"`
	PiecesHave       int     `json:"pieces_have"`
	PiecesNum        int     `json:"pieces_num"`
	RatioLimit       float64 `json:"ratio_limit"`
	MaxRatio         float64 `json:"max_ratio"`
	SeedingTimeLimit int64   `json:"seeding_time_limit"`
	MaxSeedingTime   int64   `json:"max_seeding_time"`
}

// Category is a torrent category and its save path.
type Category struct {
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
}

// BuildInfo describes the libraries qBittorrent was built with.
type BuildInfo struct {
	Qt         string `json:"qt"`
	Libtorrent string `json:"libtorrent"`
	Boost      string `json:"boost"`
	OpenSSL    string `json:"openssl"`
	Zlib       string `json:"zlib"`
	Bitness    int    `json:"bitness"`
}

// Preferences is a subset of app/preferences.
type Preferences struct {
	SavePath               string `json:"save_path"`
	TempPathEnabled        bool   `json:"temp_path_enabled"`
	TempPath               string `json:"temp_path"`
	MaxActiveDownloads     int    `json:"max_active_downloads"`
	MaxActiveUploads       int    `json:"max_active_uploads"`
	MaxActiveTorrents      int    `json:"max_active_torrents"`
	MaxActiveCheckingTorrs int    `json:"max_active_checking_torrents"`
	QueueingEnabled        bool   `json:"queueing_enabled"`
	DlLimit                int64  `json:"dl_limit"`
	UpLimit                int64  `json:"up_limit"`
	ListenPort             int    `json:"listen_port"`
	WebUIPort              int    `json:"web_ui_port"`
}

// MainDataResponse represents a subset of sync/maindata response.
type MainDataResponse struct {
	Rid         int64                       `json:"rid"`
	FullUpdate  bool                        `json:"full_update"`
	ServerState MainDataServerStateResponse `json:"server_state"`
}

// MainDataServerStateResponse contains server metrics.
type MainDataServerStateResponse struct {
	FreeSpaceOnDisk  int64  `json:"free_space_on_disk"`
	ConnectionStatus string `json:"connection_status"`
	DlInfoSpeed      int64  `json:"dl_info_speed"`
	UpInfoSpeed      int64  `json:"up_info_speed"`
}

// TransferInfoResponse represents global transfer information.
type TransferInfoResponse struct {
	DlInfoSpeed      int64  `json:"dl_info_speed"`
	DlInfoData       int64  `json:"dl_info_data"`
	UpInfoSpeed      int64  `json:"up_info_speed"`
	UpInfoData       int64  `json:"up_info_data"`
	DlRateLimit      int64  `json:"dl_rate_limit"`
	UpRateLimit      int64  `json:"up_rate_limit"`
	DhtNodes         int    `json:"dht_nodes"`
	ConnectionStatus string `json:"connection_status"`
}
