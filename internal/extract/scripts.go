package extract

import "strings"

// Collector bodies run inside the tab through the eval wrapper. They start
// the collection asynchronously, return immediately, and report the result
// later with a page-content-collected message over the bridge.

const collectorPrelude = `
const bridge = window.__tabtalk;
if (!bridge) {
  return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"bridge not installed"});
}
const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
const waitForElement = (selector, timeout) => new Promise((resolve, reject) => {
  const found = document.querySelector(selector);
  if (found) return resolve(found);
  const obs = new MutationObserver(() => {
    const el = document.querySelector(selector);
    if (el) { obs.disconnect(); resolve(el); }
  });
  obs.observe(document.documentElement, {childList: true, subtree: true});
  setTimeout(() => { obs.disconnect(); reject(new Error("timed out waiting for " + selector)); }, timeout);
});
const selection = () => {
  const s = window.getSelection ? window.getSelection() : null;
  return s ? s.toString().trim() : "";
};
const report = (extra) => bridge.send("page-content-collected", Object.assign({
  kind: "{{KIND}}",
  title: document.title,
  url: document.location.href,
  selected_text: selection(),
}, extra || {}));
`

const generalCollector = `
(async () => {
  try {
    const clone = document.cloneNode(true);
    const live = Array.from(document.querySelectorAll("iframe"));
    const copies = Array.from(clone.querySelectorAll("iframe"));
    live.forEach((frame, i) => {
      const copy = copies[i];
      if (!copy) return;
      const rect = frame.getBoundingClientRect();
      const large = rect.width > window.innerWidth / 2 || rect.height > window.innerHeight / 2;
      if (!large) { copy.remove(); return; }
      let inner = null;
      try {
        const doc = frame.contentDocument;
        inner = doc && doc.body ? doc.body.innerHTML : null;
      } catch (_) {
        inner = null;
      }
      const holder = clone.createElement("div");
      if (inner !== null) {
        holder.innerHTML = inner;
      } else {
        const p = clone.createElement("p");
        const a = clone.createElement("a");
        a.href = frame.src || "";
        a.textContent = "Embedded content could not be included, view source";
        p.appendChild(a);
        holder.appendChild(p);
      }
      copy.replaceWith(holder);
    });
    report({html: clone.documentElement.outerHTML});
  } catch (err) {
    report({});
  }
})();
return JSON.stringify({ok:true,data:{started:true}});
`

const youtubeCollector = `
(async () => {
  const video = {title: "", description: "", channel: "", captions: "no captions"};
  try {
    let available = false;
    try {
      const btn = await waitForElement(".ytp-subtitles-button", 5000);
      available = !!btn && !(btn.title || "").includes("unavailable");
    } catch (_) {}

    if (available) {
      let captions = null;
      try {
        const videoId = new URLSearchParams(location.search).get("v");
        if (videoId) {
          const res = await bridge.request("get-youtube-caption", {video_id: videoId});
          if (res && typeof res.caption === "string" && res.caption.length) captions = res.caption;
        }
      } catch (_) {}

      if (!captions) {
        try { (await waitForElement("ytd-watch-metadata #description", 3000)).click(); } catch (_) {}
        try { (await waitForElement("ytd-video-description-transcript-section-renderer #primary-button button", 2000)).click(); } catch (_) {}
        try {
          const list = await waitForElement(".ytd-transcript-segment-list-renderer", 3000);
          list.scrollTop = list.scrollHeight;
          await sleep(300);
        } catch (_) {}
        const list = document.querySelector(".ytd-transcript-segment-list-renderer");
        if (list && list.children) {
          captions = Array.from(list.children).map((row) => {
            const ts = row.querySelector(".segment-timestamp")?.textContent?.trim();
            const txt = row.querySelector(".segment-text")?.textContent?.trim();
            return ts && txt ? ts + ": " + txt : null;
          }).filter(Boolean).join("\n");
        }
      }
      video.captions = captions || "";
    }

    video.title = document.querySelector("ytd-watch-metadata #title")?.textContent?.trim() || document.title || "";
    video.description = document.querySelector("ytd-watch-metadata #description")?.textContent || "";
    video.channel = document.querySelector("ytd-channel-name yt-formatted-string")?.textContent?.trim() || "";
  } catch (_) {}
  report({video});
})();
return JSON.stringify({ok:true,data:{started:true}});
`

const notionCollector = `
report({});
return JSON.stringify({ok:true,data:{started:true}});
`

// CollectorScript returns the eval body that collects a page of the given kind.
func CollectorScript(kind Kind) string {
	var body string
	switch kind {
	case KindYouTube:
		body = youtubeCollector
	case KindNotion:
		body = notionCollector
	default:
		kind = KindGeneral
		body = generalCollector
	}
	return strings.ReplaceAll(collectorPrelude, "{{KIND}}", string(kind)) + body
}
