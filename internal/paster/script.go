package paster

// Script runs in the destination chat page. It asks the coordinator for the
// prepared files, waits for the prompt editor, fills in the prompt and
// dispatches one synthetic paste per file.
const Script = `
const bridge = window.__tabtalk;
if (!bridge) {
  return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"bridge not installed"});
}
(async () => {
  const log = (...args) => console.log('[tabtalk paster]', ...args);

  const waitForEditor = (selector, timeoutMs) => new Promise((resolve) => {
    const start = Date.now();
    const tryFind = () => {
      const el = document.querySelector(selector);
      if (el) return resolve(el);
      if (Date.now() - start >= timeoutMs) return resolve(null);
      setTimeout(tryFind, 1000);
    };
    setTimeout(tryFind, 1000);
  });

  const fire = (el, type, init) => el.dispatchEvent(new Event(type, Object.assign({bubbles: true}, init || {})));

  const strategies = [
    ['execCommand', (editor, text) => {
      if (!document.execCommand) return false;
      document.execCommand('selectAll', false);
      document.execCommand('delete', false);
      return document.execCommand('insertText', false, text) !== false;
    }],
    ['selection-api', (editor, text) => {
      editor.innerHTML = '';
      const node = document.createTextNode(text);
      editor.appendChild(node);
      const range = document.createRange();
      const sel = window.getSelection();
      range.setStartAfter(node);
      range.collapse(true);
      if (sel) { sel.removeAllRanges(); sel.addRange(range); }
      fire(editor, 'input');
      fire(editor, 'change');
      return true;
    }],
    ['text-content', (editor, text) => {
      editor.textContent = text;
      fire(editor, 'input');
      return true;
    }],
    ['framework-events', (editor, text) => {
      ['input', 'change', 'keyup', 'keydown'].forEach((t) => fire(editor, t, {cancelable: true}));
      editor.dispatchEvent(new InputEvent('input', {bubbles: true, cancelable: true, inputType: 'insertText', data: text}));
      return true;
    }],
  ];

  const injectPrompt = (editor, text) => {
    editor.focus();
    for (const [name, fn] of strategies) {
      try {
        if (fn(editor, text)) { log('prompt injected via', name); return; }
      } catch (err) {
        log(name, 'failed', err);
      }
    }
  };

  const toFile = (f) => {
    let body = f.content;
    if (f.encoding === 'base64') {
      const bin = atob(f.content);
      body = new Uint8Array(bin.length);
      for (let i = 0; i < bin.length; i++) body[i] = bin.charCodeAt(i);
    }
    return new File([body], f.name, {type: f.type, lastModified: Date.now()});
  };

  let data = null;
  try {
    data = await bridge.request('get-selected-tabs-data', {}, 5000);
  } catch (err) {
    log('no tab data', err);
    return;
  }
  const files = Array.isArray(data && data.files) ? data.files : [];
  const tabs = Array.isArray(data && data.tabs) ? data.tabs : [];
  if (tabs.length === 0 && files.length === 0) {
    log('nothing to paste');
    return;
  }

  const editor = await waitForEditor('[contenteditable="true"]', 10000);
  if (!editor) {
    log('timed out waiting for the prompt editor');
    return;
  }

  const prompt = ((data && data.prompt_content) || '').trim();
  if (prompt) injectPrompt(editor, prompt);

  for (const f of files) {
    const dt = new DataTransfer();
    dt.items.add(toFile(f));
    editor.dispatchEvent(new ClipboardEvent('paste', {clipboardData: dt, bubbles: true, cancelable: true}));
  }
  bridge.send('markdown-paste-complete', {files: files.length});
})();
return JSON.stringify({ok:true,data:{started:true}});
`
