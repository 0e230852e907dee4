package app

import (
	"context"
	"encoding/json"

	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/store"
)

type elementEvent struct {
	PageID    string                 `json:"pageId"`
	ElementID string                 `json:"elementId"`
	Element   mutation.ElementInput  `json:"element"`
	Snapshot  *mutation.ElementInput `json:"snapshot"`
}

type pageEvent struct {
	PageID     string                  `json:"pageId"`
	PageIndex  *int                    `json:"pageIndex"`
	Position   *int                    `json:"position"`
	Background string                  `json:"background"`
	PageIDs    []string                `json:"pageIds"`
	Elements   []mutation.ElementInput `json:"elements"`
}

func decodeData(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return validation("data is required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return validation("data is malformed: " + err.Error())
	}
	return nil
}

// dispatch runs one event for a joined connection. Stale references are
// acknowledged with stale set instead of failing.
func (c *client) dispatch(ctx context.Context, msg inbound, actor mutation.Actor) error {
	switch msg.Event {
	case eventElementCreated:
		var data elementEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		view, err := c.rt.pipeline.CreateElement(ctx, actor, data.PageID, data.Element)
		if mutation.IsStale(err) {
			c.ack(msg.Ref, msg.Event, map[string]any{"element": view, "stale": true})
			return nil
		}
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"pageId": data.PageID, "element": view})

	case eventElementUpdated:
		var data elementEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		view, err := c.rt.pipeline.UpdateElement(ctx, actor, mutation.UpdateRequest{
			ElementID: data.ElementID,
			PageID:    data.PageID,
			Element:   data.Element,
			Snapshot:  data.Snapshot,
		})
		if mutation.IsStale(err) {
			c.ack(msg.Ref, msg.Event, map[string]any{"elementId": data.ElementID, "stale": true})
			return nil
		}
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"elementId": view.ID, "pageId": view.PageID, "element": view})

	case eventElementDeleted:
		var data elementEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		if err := c.rt.pipeline.DeleteElement(ctx, actor, data.ElementID, data.PageID); err != nil && !mutation.IsStale(err) {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"elementId": data.ElementID})

	case EventRoleChanged:
		var data struct {
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
		}
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		p, err := c.rt.presence.ChangeRole(ctx, actor.Role, actor.DocumentID, data.DisplayName, data.Role)
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"participant": presence.ViewsOf([]store.Participant{p})[0]})

	case EventPageChanged:
		var data pageEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		if data.PageIndex == nil || *data.PageIndex < 0 {
			return validation("pageIndex must be a non-negative integer")
		}
		c.rt.rooms.BroadcastToOthers(c.id, actor.DocumentID, EventPageChanged, map[string]any{
			"pageIndex":   *data.PageIndex,
			"displayName": actor.DisplayName,
		})

	case eventPageAdded:
		var data pageEvent
		if len(msg.Data) > 0 {
			if err := decodeData(msg.Data, &data); err != nil {
				return err
			}
		}
		page, err := c.rt.pipeline.AddPage(ctx, actor, data.Position, data.Background)
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"page": mutation.PageViewOf(store.PageWithElements{Page: page})})

	case eventPageDeleted:
		var data pageEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		if err := c.rt.pipeline.DeletePage(ctx, actor, data.PageID); err != nil && !mutation.IsStale(err) {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"pageId": data.PageID})

	case eventPagesReordered:
		var data pageEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		pages, err := c.rt.pipeline.ReorderPages(ctx, actor, data.PageIDs)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(pages))
		for _, p := range pages {
			ids = append(ids, p.ID)
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"pageIds": ids})

	case eventPageDuplicated:
		var data pageEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		page, err := c.rt.pipeline.DuplicatePage(ctx, actor, data.PageID)
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"sourcePageId": data.PageID, "page": mutation.PageViewOf(page)})

	case eventDocumentUpdated:
		var data struct {
			Title string `json:"title"`
		}
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		doc, err := c.rt.pipeline.UpdateDocument(ctx, actor, data.Title)
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"documentId": doc.ID, "title": doc.Title, "updatedAt": doc.UpdatedAt})

	case eventPageSaved:
		var data pageEvent
		if err := decodeData(msg.Data, &data); err != nil {
			return err
		}
		elements, err := c.rt.pipeline.SavePage(ctx, actor, data.PageID, data.Elements)
		if err != nil {
			return err
		}
		c.ack(msg.Ref, msg.Event, map[string]any{"pageId": data.PageID, "elements": elements})

	default:
		return validation("unknown event " + msg.Event)
	}
	return nil
}
