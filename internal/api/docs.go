package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>iv Control API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · iv</title>
  <style>
    body {
      margin: 0;
      padding: 32px 48px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #30363d; padding: 6px 12px; text-align: left; }
  </style>
</head>
<body>
  <p><a href="/docs">← API reference</a></p>
  <h1>Session event stream</h1>
  <p><code>GET /api/v1/events</code> streams session events as server-sent events.
  Filter by type with <code>?types=title,crash</code>.</p>
  <pre>curl -N http://127.0.0.1:8711/api/v1/events</pre>
  <table>
    <tr><th>event</th><th>data</th></tr>
    <tr><td><code>title</code></td><td><code>{"session_id":"…","type":"title","title":"cat.png"}</code>; title is omitted while the grid is shown</td></tr>
    <tr><td><code>refresh</code></td><td>the file list was re-read</td></tr>
    <tr><td><code>crash</code></td><td>the render process died; <code>message</code> carries the exit code</td></tr>
    <tr><td><code>closed</code></td><td>the viewer window was closed</td></tr>
  </table>
  <p>Idle streams receive a <code>: keep-alive</code> comment every 15 seconds.</p>
</body>
</html>`
