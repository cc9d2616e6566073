package slackapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// File — объект файла Web API.
type File struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Title              string   `json:"title"`
	FileType           string   `json:"filetype"`
	MimeType           string   `json:"mimetype"`
	Size               int64    `json:"size"`
	Created            int64    `json:"created"`
	User               string   `json:"user"`
	Channels           []string `json:"channels"`
	Groups             []string `json:"groups"`
	IMs                []string `json:"ims"`
	URLPrivate         string   `json:"url_private"`
	URLPrivateDownload string   `json:"url_private_download"`
}

// Descriptor преобразует файл в дескриптор для регистрации в леджере.
// Канал — первый из channels, groups, ims.
func (f *File) Descriptor(origin model.Origin) model.FileDescriptor {
	name := f.Name
	if name == "" {
		name = f.Title
	}
	return model.FileDescriptor{
		FileID:    f.ID,
		ChannelID: firstOf(f.Channels, f.Groups, f.IMs),
		UserID:    f.User,
		Name:      name,
		FileType:  f.FileType,
		Size:      f.Size,
		CreatedAt: time.Unix(f.Created, 0).UTC(),
		Origin:    origin,
	}
}

func firstOf(lists ...[]string) string {
	for _, l := range lists {
		if len(l) > 0 {
			return l[0]
		}
	}
	return ""
}

// paging — блок пагинации files.list.
type paging struct {
	Count int `json:"count"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

// ListFiles возвращает страницу files.list (страницы с 1) и признак
// наличия следующей страницы.
func (c *Client) ListFiles(ctx context.Context, page int) ([]model.FileDescriptor, bool, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("count", strconv.Itoa(c.pageSize))

	var resp struct {
		Files  []File `json:"files"`
		Paging paging `json:"paging"`
	}
	if _, err := c.call(ctx, "files.list", params, &resp); err != nil {
		return nil, false, err
	}

	out := make([]model.FileDescriptor, 0, len(resp.Files))
	for i := range resp.Files {
		out = append(out, resp.Files[i].Descriptor(model.OriginCatalog))
	}
	hasMore := len(resp.Files) > 0 && resp.Paging.Page < resp.Paging.Pages

	c.logger.Debug("Получена страница files.list",
		slog.Int("page", page),
		slog.Int("pages", resp.Paging.Pages),
		slog.Int("files", len(out)),
	)
	return out, hasMore, nil
}

// FileInfo возвращает метаданные файла (files.info).
func (c *Client) FileInfo(ctx context.Context, fileID string) (*File, error) {
	params := url.Values{}
	params.Set("file", fileID)

	var resp struct {
		File File `json:"file"`
	}
	if _, err := c.call(ctx, "files.info", params, &resp); err != nil {
		return nil, err
	}
	return &resp.File, nil
}

// Describe возвращает дескриптор файла по идентификатору.
func (c *Client) Describe(ctx context.Context, fileID string, origin model.Origin) (model.FileDescriptor, error) {
	f, err := c.FileInfo(ctx, fileID)
	if err != nil {
		return model.FileDescriptor{}, err
	}
	return f.Descriptor(origin), nil
}

// Download скачивает содержимое файла в w. Таймаут задаёт ctx.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	f, err := c.FileInfo(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("получение ссылки на файл: %w", err)
	}
	fileURL := f.URLPrivateDownload
	if fileURL == "" {
		fileURL = f.URLPrivate
	}
	if fileURL == "" {
		return 0, fmt.Errorf("у файла %s нет ссылки для скачивания", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("создание запроса скачивания: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("скачивание файла %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if err := checkStatus("download", resp); err != nil {
		return 0, err
	}
	// Без валидного токена Slack отвечает 200 со страницей входа.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") && !strings.HasPrefix(f.MimeType, "text/html") {
		return 0, fmt.Errorf("скачивание файла %s: получена HTML-страница вместо содержимого", fileID)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("скачивание файла %s: %w", fileID, err)
	}
	return n, nil
}
