// Package http is the development backend for the notification client.
//
// Every route requires an HS256 bearer token whose subject is the
// user id and whose church_id claim names the caller's church:
//   - GET /notifications?limit=n: the caller's notifications, newest first.
//   - POST /notifications: stores a notification. Body:
//     {"user_id","type","title","message","data"}; user_id defaults to the
//     caller.
//   - GET /notifications/unread-count: {"count":n}.
//   - PUT /notifications/{id}/read: marks one notification read.
//   - PUT /notifications/read-all: {"updated":n}.
//   - DELETE /notifications/{id}: 204 No Content.
//   - GET /schedules, POST /schedules: schedules of the caller's church.
//   - GET /ws?topic=user:<id>|church:<id>: websocket push. The token may be
//     passed as access_token in the query string.
//
// Mutations publish notification.* events on the user topic and
// schedule.updated on the church topic.
package http
