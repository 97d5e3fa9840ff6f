package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"motionwatch/config"
)

// Service implements API on the YouTube Data API v3.
type Service struct {
	yt *youtube.Service
}

// OAuthConfig reads the installed-app client secrets.
func OAuthConfig(cfg config.YouTube) (*oauth2.Config, error) {
	secrets, err := os.ReadFile(cfg.ClientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	oc, err := google.ConfigFromJSON(secrets, youtube.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return oc, nil
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken writes tok to path readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// NewService authenticates with the saved token, refreshing it as needed.
func NewService(ctx context.Context, cfg config.YouTube) (*Service, error) {
	oc, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w (run the youtube-auth command first)", err)
	}

	yt, err := youtube.NewService(ctx, option.WithTokenSource(oc.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Service{yt: yt}, nil
}

func (s *Service) InsertBroadcast(ctx context.Context, title, description string, start time.Time) (string, error) {
	b := &youtube.LiveBroadcast{
		Snippet: &youtube.LiveBroadcastSnippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: start.Format(time.RFC3339),
		},
		Status: &youtube.LiveBroadcastStatus{PrivacyStatus: "unlisted"},
		ContentDetails: &youtube.LiveBroadcastContentDetails{
			MonitorStream: &youtube.MonitorStreamInfo{
				EnableMonitorStream: googleapi.Bool(false),
				ForceSendFields:     []string{"EnableMonitorStream"},
			},
		},
	}
	resp, err := s.yt.LiveBroadcasts.Insert([]string{"snippet", "contentDetails", "status"}, b).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return resp.Id, nil
}

func (s *Service) FindStream(ctx context.Context, title string) (string, error) {
	var id string
	err := s.yt.LiveStreams.List([]string{"snippet"}).Mine(true).MaxResults(50).
		Pages(ctx, func(resp *youtube.LiveStreamListResponse) error {
			for _, st := range resp.Items {
				if st.Snippet != nil && st.Snippet.Title == title {
					id = st.Id
					return errFound
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	return id, nil
}

// errFound stops paging once the stream is found.
var errFound = errors.New("found")

func (s *Service) Bind(ctx context.Context, broadcastID, streamID string) error {
	_, err := s.yt.LiveBroadcasts.Bind(broadcastID, []string{"id", "contentDetails"}).StreamId(streamID).Context(ctx).Do()
	return err
}

func (s *Service) Transition(ctx context.Context, broadcastID, status string) error {
	_, err := s.yt.LiveBroadcasts.Transition(status, broadcastID, []string{"status"}).Context(ctx).Do()
	return err
}

func (s *Service) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}
	_, err := s.yt.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do()
	return err
}
