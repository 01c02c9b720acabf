package logging

import (
	"context"
)

type contextKey string

const (
	EventIDKey     contextKey = "event_id"
	ProjectIDKey   contextKey = "project_id"
	StreamEntryKey contextKey = "stream_entry_id"
	ServiceNameKey contextKey = "service_name"
)

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ProjectIDKey, projectID)
}

func WithStreamEntryID(ctx context.Context, entryID string) context.Context {
	return context.WithValue(ctx, StreamEntryKey, entryID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetEventID(ctx context.Context) string {
	if eventID, ok := ctx.Value(EventIDKey).(string); ok {
		return eventID
	}
	return ""
}

func GetProjectID(ctx context.Context) string {
	if projectID, ok := ctx.Value(ProjectIDKey).(string); ok {
		return projectID
	}
	return ""
}

func GetStreamEntryID(ctx context.Context) string {
	if entryID, ok := ctx.Value(StreamEntryKey).(string); ok {
		return entryID
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if eventID := GetEventID(ctx); eventID != "" {
		fields = append(fields, "event_id", eventID)
	}

	if projectID := GetProjectID(ctx); projectID != "" {
		fields = append(fields, "project_id", projectID)
	}

	if entryID := GetStreamEntryID(ctx); entryID != "" {
		fields = append(fields, "stream_entry_id", entryID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
