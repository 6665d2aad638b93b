package youtube

// TriggerCaptionsJS clicks the CC button on a watch page so the player
// requests /api/timedtext, which the network watcher then observes.
const TriggerCaptionsJS = `(function(){
  if (!location.hostname.endsWith('youtube.com') || !location.pathname.startsWith('/watch')) return false;
  const sel = '.ytp-subtitles-button[title]:not([title*="unavailable"]):not([aria-pressed="true"])';
  const click = (btn) => setTimeout(() => btn.click(), 300);
  const found = document.querySelector(sel);
  if (found) { click(found); return true; }
  const obs = new MutationObserver(() => {
    const btn = document.querySelector(sel);
    if (btn) { obs.disconnect(); click(btn); }
  });
  obs.observe(document.documentElement || document, {childList: true, subtree: true});
  setTimeout(() => obs.disconnect(), 5000);
  return true;
})()`
